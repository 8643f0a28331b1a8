// Package healthcheck aggregates readiness checks for the health endpoint.
package healthcheck

import "context"

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
)

// CheckResult is one check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more checks.
type Checker interface {
	ListChecks(ctx context.Context) []CheckResult
}

// Report is the combined outcome of every checker.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Run evaluates all checkers. The report status is the worst check status.
func Run(ctx context.Context, checkers ...Checker) Report {
	r := Report{Status: StatusOK, Checks: []CheckResult{}}
	for _, c := range checkers {
		if c == nil {
			continue
		}
		for _, item := range c.ListChecks(ctx) {
			r.Checks = append(r.Checks, item)
			if severity(item.Status) > severity(r.Status) {
				r.Status = item.Status
			}
		}
	}
	return r
}

func severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusWarn:
		return 1
	default:
		return 2
	}
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) []CheckResult

func (f CheckerFunc) ListChecks(ctx context.Context) []CheckResult {
	return f(ctx)
}
