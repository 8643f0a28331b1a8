package orchestrator

// ActionKind is the type of an outbound action.
type ActionKind string

const (
	ActionSendText         ActionKind = "send_text"
	ActionSendQuickReplies ActionKind = "send_quick_replies"
	ActionSendImage        ActionKind = "send_image"
)

// QuickReply is one button offered below a message.
type QuickReply struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Action is one outbound message. Actions are executed in order by the
// transport; the recipient is implied by the event that produced them.
type Action struct {
	Kind         ActionKind   `json:"kind"`
	Text         string       `json:"text,omitempty"`
	ImageURL     string       `json:"image_url,omitempty"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
}

func sendText(text string) Action {
	return Action{Kind: ActionSendText, Text: text}
}

func sendQuickReplies(text string, replies ...QuickReply) Action {
	return Action{Kind: ActionSendQuickReplies, Text: text, QuickReplies: replies}
}

func sendImage(url string) Action {
	return Action{Kind: ActionSendImage, ImageURL: url}
}
