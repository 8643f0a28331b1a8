package channel

import (
	"context"
	"fmt"

	"github.com/leaderbot/leaderbot/internal/orchestrator"
)

// Deliver sends actions in order and stops at the first failure, so the user
// never sees a later message without the earlier one.
func Deliver(ctx context.Context, sender Sender, recipient string, actions []orchestrator.Action) error {
	for i, a := range actions {
		var err error
		switch a.Kind {
		case orchestrator.ActionSendText:
			err = sender.SendText(ctx, recipient, a.Text)
		case orchestrator.ActionSendQuickReplies:
			err = sender.SendQuickReplies(ctx, recipient, a.Text, a.QuickReplies)
		case orchestrator.ActionSendImage:
			err = sender.SendImage(ctx, recipient, a.ImageURL)
		default:
			err = fmt.Errorf("unsupported action kind %q", a.Kind)
		}
		if err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a.Kind, err)
		}
	}
	return nil
}
