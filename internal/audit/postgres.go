package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const insertEntry = `
INSERT INTO generation_audit (
  req_id, log_user, style, ok, error_kind,
  incoming_byte_len, incoming_hash, pipeline_input_hash, output_url,
  fetch_ms, provider_ms, persist_ms, total_ms, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// PGRecorder stores entries in the generation_audit table.
type PGRecorder struct {
	pool *pgxpool.Pool
}

func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

func (r *PGRecorder) Record(ctx context.Context, e Entry) error {
	p := e.Proof
	_, err := r.pool.Exec(ctx, insertEntry,
		e.ReqID, e.LogUser, e.Style, p.OK, string(p.ErrorKind),
		p.IncomingByteLen, p.IncomingHash, p.PipelineInputHash, p.OutputURL,
		p.Timings.FetchMs, p.Timings.ProviderMs, p.Timings.PersistMs, p.Timings.TotalMs, e.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// CountByReqID returns how many entries carry reqID.
func (r *PGRecorder) CountByReqID(ctx context.Context, reqID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM generation_audit WHERE req_id = $1`, reqID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}
