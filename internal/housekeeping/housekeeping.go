// Package housekeeping periodically evicts expired in-memory state and old
// generated artifacts.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type conversationPruner interface {
	PruneOlderThan(maxAge time.Duration, now time.Time) int
}

type quotaPruner interface {
	Prune(now time.Time) int
}

type dedupePurger interface {
	Purge(now time.Time) int
}

type artifactSweeper interface {
	Sweep(ctx context.Context, prefix string, maxAge time.Duration, now time.Time) (int, error)
}

// Config holds retention settings. Zero ages disable the related sweep.
type Config struct {
	Schedule           string
	ConversationMaxAge time.Duration
	ArtifactPrefix     string
	ArtifactMaxAge     time.Duration
}

// Targets are the stores swept on each run. Nil targets are skipped.
type Targets struct {
	Conversations conversationPruner
	Quota         quotaPruner
	Dedupe        dedupePurger
	Artifacts     artifactSweeper
}

// Report counts what one run removed.
type Report struct {
	Conversations int
	QuotaRecords  int
	DedupeKeys    int
	Artifacts     int
}

// Service runs housekeeping on a cron schedule.
type Service struct {
	cfg     Config
	targets Targets
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewService(log *slog.Logger, cfg Config, targets Targets) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		targets: targets,
		logger:  log.With(slog.String("service", "housekeeping")),
		now:     time.Now,
	}
}

// Start schedules Run. It fails on an unparsable schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.Run(ctx) }); err != nil {
		return fmt.Errorf("housekeeping schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("housekeeping scheduled", slog.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run performs one sweep over every target.
func (s *Service) Run(ctx context.Context) Report {
	now := s.now()
	var r Report
	if t := s.targets.Conversations; t != nil && s.cfg.ConversationMaxAge > 0 {
		r.Conversations = t.PruneOlderThan(s.cfg.ConversationMaxAge, now)
	}
	if t := s.targets.Quota; t != nil {
		r.QuotaRecords = t.Prune(now)
	}
	if t := s.targets.Dedupe; t != nil {
		r.DedupeKeys = t.Purge(now)
	}
	if t := s.targets.Artifacts; t != nil && s.cfg.ArtifactMaxAge > 0 {
		n, err := t.Sweep(ctx, s.cfg.ArtifactPrefix, s.cfg.ArtifactMaxAge, now)
		if err != nil {
			s.logger.Warn("artifact sweep failed", slog.Any("error", err))
		}
		r.Artifacts = n
	}
	s.logger.Info("housekeeping run",
		slog.Int("conversations", r.Conversations),
		slog.Int("quota_records", r.QuotaRecords),
		slog.Int("dedupe_keys", r.DedupeKeys),
		slog.Int("artifacts", r.Artifacts),
	)
	return r
}
