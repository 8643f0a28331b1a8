// Package generation turns a user's photo into a styled image: it downloads
// and verifies the source, calls the image provider and persists the result.
package generation

import (
	"context"
)

// Generator produces a styled image for a user.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Request is the input of one generation attempt.
type Request struct {
	Style          string
	SourceImageURL string
	UserKey        string
	ReqID          string
}

// Timings are per-stage durations in milliseconds.
type Timings struct {
	FetchMs    int64 `json:"fetch_ms"`
	ProviderMs int64 `json:"provider_ms"`
	PersistMs  int64 `json:"persist_ms"`
	TotalMs    int64 `json:"total_ms"`
}

// Proof is the audit record of one attempt. It only carries hashes, sizes and
// timings, never image bytes or platform identifiers.
type Proof struct {
	IncomingByteLen   int     `json:"incoming_byte_len"`
	IncomingHash      string  `json:"incoming_hash,omitempty"`
	PipelineInputHash string  `json:"pipeline_input_hash,omitempty"`
	OutputURL         string  `json:"output_url,omitempty"`
	Timings           Timings `json:"timings"`
	OK                bool    `json:"ok"`
	ErrorKind         Kind    `json:"error_kind,omitempty"`
}

// HashesMatch reports whether the provider received exactly the downloaded bytes.
func (p Proof) HashesMatch() bool {
	return p.IncomingHash != "" && p.IncomingHash == p.PipelineInputHash
}

// Metrics carries counters gathered during an attempt.
type Metrics struct {
	Timings
	FetchAttempts int   `json:"fetch_attempts"`
	OutputBytes   int64 `json:"output_bytes"`
}

// Result is returned on success and, partially filled, alongside errors.
type Result struct {
	ImageURL string  `json:"image_url,omitempty"`
	Proof    Proof   `json:"proof"`
	Metrics  Metrics `json:"metrics"`
}
