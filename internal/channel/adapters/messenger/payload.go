// Package messenger adapts Facebook Messenger webhooks and the Graph Send API
// to the channel package.
package messenger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leaderbot/leaderbot/internal/channel"
	"github.com/leaderbot/leaderbot/internal/orchestrator"
)

// Type is the channel type for Facebook Messenger.
const Type channel.ChannelType = "messenger"

// WebhookBody is the top-level Messenger webhook payload.
type WebhookBody struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

type Sender struct {
	ID     string `json:"id"`
	Locale string `json:"locale,omitempty"`
}

type MessagingEvent struct {
	Sender    Sender          `json:"sender"`
	Recipient Sender          `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *Message        `json:"message,omitempty"`
	Postback  *Postback       `json:"postback,omitempty"`
	Read      json.RawMessage `json:"read,omitempty"`
	Delivery  json.RawMessage `json:"delivery,omitempty"`
}

type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	QuickReply  *QuickReply  `json:"quick_reply,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type QuickReply struct {
	Payload string `json:"payload"`
}

type Postback struct {
	MID     string `json:"mid,omitempty"`
	Title   string `json:"title,omitempty"`
	Payload string `json:"payload"`
}

type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

type AttachmentPayload struct {
	URL string `json:"url,omitempty"`
}

// Decode parses a raw webhook body.
func Decode(body []byte) (WebhookBody, error) {
	var wb WebhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return WebhookBody{}, fmt.Errorf("decode webhook body: %w", err)
	}
	return wb, nil
}

// Parse maps a webhook body to inbound messages. Echoes of the page's own
// messages and read or delivery receipts produce nothing. A body without an
// object field is treated as a page body.
func Parse(wb WebhookBody) []channel.InboundMessage {
	if wb.Object != "" && wb.Object != "page" {
		return nil
	}
	var out []channel.InboundMessage
	for _, entry := range wb.Entry {
		for _, ev := range entry.Messaging {
			if msg, ok := toInbound(ev); ok {
				out = append(out, msg)
			}
		}
	}
	return out
}

func toInbound(ev MessagingEvent) (channel.InboundMessage, bool) {
	senderID := strings.TrimSpace(ev.Sender.ID)
	if senderID == "" {
		return channel.InboundMessage{}, false
	}
	msg := channel.InboundMessage{
		Channel:        Type,
		PlatformUserID: senderID,
		Locale:         ev.Sender.Locale,
		Timestamp:      ev.Timestamp,
	}
	switch {
	case ev.Postback != nil:
		msg.Kind = orchestrator.EventControl
		msg.MessageID = ev.Postback.MID
		msg.Payload = strings.TrimSpace(ev.Postback.Payload)
		msg.Text = ev.Postback.Title
		return msg, msg.Payload != ""
	case ev.Message != nil:
		m := ev.Message
		if m.IsEcho {
			return channel.InboundMessage{}, false
		}
		msg.MessageID = m.MID
		if m.QuickReply != nil && strings.TrimSpace(m.QuickReply.Payload) != "" {
			msg.Kind = orchestrator.EventControl
			msg.Payload = strings.TrimSpace(m.QuickReply.Payload)
			msg.Text = m.Text
			return msg, true
		}
		for _, att := range m.Attachments {
			if att.Type == "image" && strings.TrimSpace(att.Payload.URL) != "" {
				msg.Kind = orchestrator.EventPhoto
				msg.ImageURL = strings.TrimSpace(att.Payload.URL)
				return msg, true
			}
		}
		if strings.TrimSpace(m.Text) != "" {
			msg.Kind = orchestrator.EventText
			msg.Text = m.Text
			return msg, true
		}
	}
	return channel.InboundMessage{}, false
}

// EventSummary describes one messaging event without identifiers or content.
type EventSummary struct {
	Type            string   `json:"type"`
	HasText         bool     `json:"hasText"`
	AttachmentTypes []string `json:"attachmentTypes"`
	IsEcho          bool     `json:"isEcho"`
	HasRead         bool     `json:"hasRead"`
	HasDelivery     bool     `json:"hasDelivery"`
	HasPostback     bool     `json:"hasPostback"`
}

// Summary is a log-safe description of a webhook body.
type Summary struct {
	Object     string         `json:"object"`
	EntryCount int            `json:"entryCount"`
	Events     []EventSummary `json:"events"`
}

// Summarize builds a Summary for logging. It never copies ids or text.
func Summarize(wb WebhookBody) Summary {
	s := Summary{Object: wb.Object, EntryCount: len(wb.Entry), Events: []EventSummary{}}
	for _, entry := range wb.Entry {
		for _, ev := range entry.Messaging {
			es := EventSummary{
				Type:            eventType(ev),
				AttachmentTypes: []string{},
				HasRead:         len(ev.Read) > 0,
				HasDelivery:     len(ev.Delivery) > 0,
				HasPostback:     ev.Postback != nil,
			}
			if ev.Message != nil {
				es.HasText = strings.TrimSpace(ev.Message.Text) != ""
				es.IsEcho = ev.Message.IsEcho
				for _, att := range ev.Message.Attachments {
					if att.Type != "" {
						es.AttachmentTypes = append(es.AttachmentTypes, att.Type)
					}
				}
			}
			s.Events = append(s.Events, es)
		}
	}
	return s
}

func eventType(ev MessagingEvent) string {
	switch {
	case ev.Message != nil:
		return "message"
	case ev.Postback != nil:
		return "postback"
	case len(ev.Read) > 0:
		return "read"
	case len(ev.Delivery) > 0:
		return "delivery"
	default:
		return "unknown"
	}
}
