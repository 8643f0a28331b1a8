package generationchecker

import (
	"context"

	"github.com/leaderbot/leaderbot/internal/healthcheck"
)

const checkTypeGenerator = "generation.readiness"

// Readiness reports whether the configured generator can run.
type Readiness interface {
	Ready() error
}

// Checker reports generator configuration problems before a user hits them.
type Checker struct {
	mode      string
	readiness Readiness
	baseURL   string
}

func NewChecker(mode string, readiness Readiness, publicBaseURL string) *Checker {
	return &Checker{mode: mode, readiness: readiness, baseURL: publicBaseURL}
}

func (c *Checker) ListChecks(context.Context) []healthcheck.CheckResult {
	result := healthcheck.CheckResult{
		ID:       checkTypeGenerator,
		Type:     checkTypeGenerator,
		Status:   healthcheck.StatusOK,
		Summary:  "Generator is ready.",
		Metadata: map[string]any{"mode": c.mode},
	}
	switch {
	case c.baseURL == "":
		result.Status = healthcheck.StatusError
		result.Summary = "Public base URL is not configured."
	case c.readiness != nil:
		if err := c.readiness.Ready(); err != nil {
			result.Status = healthcheck.StatusError
			result.Summary = "Image provider is not configured: " + err.Error()
		}
	}
	return []healthcheck.CheckResult{result}
}
