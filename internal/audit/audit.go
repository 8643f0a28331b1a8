// Package audit records one proof entry per generation attempt. Entries carry
// the truncated user key, hashes, sizes and timings only.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/leaderbot/leaderbot/internal/generation"
)

// Entry is one generation attempt.
type Entry struct {
	At      time.Time
	ReqID   string
	LogUser string
	Style   string
	Proof   generation.Proof
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// LogRecorder writes entries as structured log lines.
type LogRecorder struct {
	logger *slog.Logger
}

func NewLogRecorder(log *slog.Logger) *LogRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &LogRecorder{logger: log.With(slog.String("component", "audit"))}
}

func (r *LogRecorder) Record(ctx context.Context, e Entry) error {
	r.logger.LogAttrs(ctx, slog.LevelInfo, "generation proof",
		slog.String("req_id", e.ReqID),
		slog.String("user", e.LogUser),
		slog.String("style", e.Style),
		slog.Bool("ok", e.Proof.OK),
		slog.String("error_kind", string(e.Proof.ErrorKind)),
		slog.Int("incoming_byte_len", e.Proof.IncomingByteLen),
		slog.String("incoming_hash", e.Proof.IncomingHash),
		slog.String("pipeline_input_hash", e.Proof.PipelineInputHash),
		slog.Bool("hashes_match", e.Proof.HashesMatch()),
		slog.String("output_url", e.Proof.OutputURL),
		slog.Int64("fetch_ms", e.Proof.Timings.FetchMs),
		slog.Int64("provider_ms", e.Proof.Timings.ProviderMs),
		slog.Int64("persist_ms", e.Proof.Timings.PersistMs),
		slog.Int64("total_ms", e.Proof.Timings.TotalMs),
	)
	return nil
}

// Multi fans an entry out to several recorders and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
