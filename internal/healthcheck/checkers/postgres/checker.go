package postgreschecker

import (
	"context"
	"time"

	"github.com/leaderbot/leaderbot/internal/healthcheck"
)

const (
	checkTypePostgres = "postgres.ping"
	pingTimeout       = 2 * time.Second
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker pings the audit database. A nil pinger reports nothing.
type Checker struct {
	pinger Pinger
}

func NewChecker(pinger Pinger) *Checker {
	return &Checker{pinger: pinger}
}

func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if c.pinger == nil {
		return []healthcheck.CheckResult{}
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	result := healthcheck.CheckResult{
		ID:      checkTypePostgres,
		Type:    checkTypePostgres,
		Status:  healthcheck.StatusOK,
		Summary: "Audit database reachable.",
	}
	if err := c.pinger.Ping(ctx); err != nil {
		// Audit is best effort; generation keeps working without it.
		result.Status = healthcheck.StatusWarn
		result.Summary = "Audit database unreachable: " + err.Error()
	}
	return []healthcheck.CheckResult{result}
}
