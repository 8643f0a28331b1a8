package messenger

import (
	"context"
	"log/slog"

	"github.com/leaderbot/leaderbot/internal/orchestrator"
)

// LogSender logs outbound actions instead of delivering them. Used in dry-run
// mode and when no page token is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{logger: log.With(slog.String("component", "messenger_dry_run"))}
}

func (s *LogSender) SendText(_ context.Context, _ string, text string) error {
	s.logger.Info("send text", slog.Int("chars", len([]rune(text))))
	return nil
}

func (s *LogSender) SendQuickReplies(_ context.Context, _ string, text string, replies []orchestrator.QuickReply) error {
	payloads := make([]string, 0, len(replies))
	for _, r := range replies {
		payloads = append(payloads, r.Payload)
	}
	s.logger.Info("send quick replies", slog.Int("chars", len([]rune(text))), slog.Any("payloads", payloads))
	return nil
}

func (s *LogSender) SendImage(_ context.Context, _ string, url string) error {
	s.logger.Info("send image", slog.String("url", url))
	return nil
}
