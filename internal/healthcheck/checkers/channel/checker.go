package channelchecker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leaderbot/leaderbot/internal/healthcheck"
)

const (
	checkTypeInboundQueue = "channel.inbound_queue"
	// warnRatio is the queue fill level that turns the check to warn.
	warnRatio = 0.8
)

// QueueObserver reads the inbound queue depth.
type QueueObserver interface {
	QueueLen() int
	QueueCap() int
}

// Checker reports inbound queue saturation.
type Checker struct {
	logger   *slog.Logger
	observer QueueObserver
}

// NewChecker creates a channel health checker.
func NewChecker(log *slog.Logger, observer QueueObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		observer: observer,
	}
}

// ListChecks evaluates the inbound queue.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		c.logger.Warn("channel healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{{
			ID:      checkTypeInboundQueue,
			Type:    checkTypeInboundQueue,
			Status:  healthcheck.StatusWarn,
			Summary: "Channel manager is not available.",
		}}
	}
	depth, capacity := c.observer.QueueLen(), c.observer.QueueCap()
	status := healthcheck.StatusOK
	summary := "Inbound queue has capacity."
	switch {
	case capacity > 0 && depth >= capacity:
		status = healthcheck.StatusError
		summary = "Inbound queue is full; new events are dropped."
	case capacity > 0 && float64(depth) >= warnRatio*float64(capacity):
		status = healthcheck.StatusWarn
		summary = fmt.Sprintf("Inbound queue is %d%% full.", depth*100/capacity)
	}
	return []healthcheck.CheckResult{{
		ID:      checkTypeInboundQueue,
		Type:    checkTypeInboundQueue,
		Status:  status,
		Summary: summary,
		Metadata: map[string]any{
			"depth":    depth,
			"capacity": capacity,
		},
	}}
}
