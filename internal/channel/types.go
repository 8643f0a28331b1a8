// Package channel connects a messaging platform to the orchestrator: adapters
// parse inbound webhooks into InboundMessages, the Manager processes them on a
// bounded worker pool and delivers the resulting actions through a Sender.
package channel

import (
	"context"

	"github.com/leaderbot/leaderbot/internal/orchestrator"
)

// ChannelType identifies a messaging platform.
type ChannelType string

func (c ChannelType) String() string {
	return string(c)
}

// InboundMessage is one user event as delivered by a platform. PlatformUserID
// is only used to derive the user key and to address replies; it never
// reaches logs or the orchestrator.
type InboundMessage struct {
	Channel        ChannelType
	PlatformUserID string
	Locale         string
	Timestamp      int64
	MessageID      string
	Kind           orchestrator.EventKind
	Text           string
	Payload        string
	ImageURL       string
}

// Sender delivers outbound actions to one recipient on a platform.
type Sender interface {
	SendText(ctx context.Context, recipient, text string) error
	SendQuickReplies(ctx context.Context, recipient, text string, replies []orchestrator.QuickReply) error
	SendImage(ctx context.Context, recipient, url string) error
}

// Processor turns an event into ordered actions. The optional continuation
// carries a generation the event started.
type Processor interface {
	Begin(ctx context.Context, ev orchestrator.Event) ([]orchestrator.Action, orchestrator.Continuation)
}
