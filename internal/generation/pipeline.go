package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leaderbot/leaderbot/internal/privacy"
	"github.com/leaderbot/leaderbot/internal/styles"
)

const (
	DefaultProviderTimeout = 60 * time.Second
	// ArtifactPrefix is the storage prefix and URL path segment of generated images.
	ArtifactPrefix = "generated"
)

// ArtifactStore persists generated images under a slash-separated key.
type ArtifactStore interface {
	Put(ctx context.Context, key string, reader io.Reader) (int64, error)
}

// PipelineConfig holds the tunables of a Pipeline.
type PipelineConfig struct {
	PublicBaseURL   string
	MinSourceBytes  int
	ProviderTimeout time.Duration
}

// Pipeline downloads the source photo, calls the provider and persists the
// output. It never retries the provider call.
type Pipeline struct {
	cfg      PipelineConfig
	catalog  *styles.Catalog
	fetcher  *Fetcher
	provider Provider
	store    ArtifactStore
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewPipeline wires a pipeline.
func NewPipeline(log *slog.Logger, cfg PipelineConfig, catalog *styles.Catalog, fetcher *Fetcher, provider Provider, store ArtifactStore) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.MinSourceBytes < 0 {
		cfg.MinSourceBytes = DefaultMinSourceBytes
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if fetcher == nil {
		fetcher = NewFetcher(nil, DefaultFetchTimeout)
	}
	return &Pipeline{
		cfg:      cfg,
		catalog:  catalog,
		fetcher:  fetcher,
		provider: provider,
		store:    store,
		logger:   log.With(slog.String("service", "generation")),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Generate runs one attempt. The returned Result is populated as far as the
// attempt got, also when err is non-nil.
func (p *Pipeline) Generate(ctx context.Context, req Request) (Result, error) {
	start := p.now()
	var res Result
	finish := func(err error) (Result, error) {
		res.Proof.Timings.TotalMs = p.now().Sub(start).Milliseconds()
		res.Metrics.Timings = res.Proof.Timings
		if err != nil {
			kind, _ := KindOf(err)
			res.Proof.OK = false
			res.Proof.ErrorKind = kind
			p.logger.Warn("generation failed",
				slog.String("req_id", req.ReqID),
				slog.String("user", privacy.ToLogUser(req.UserKey)),
				slog.String("style", req.Style),
				slog.String("kind", string(kind)),
				slog.Any("error", err),
			)
			return res, err
		}
		res.Proof.OK = true
		p.logger.Info("generation completed",
			slog.String("req_id", req.ReqID),
			slog.String("user", privacy.ToLogUser(req.UserKey)),
			slog.String("style", req.Style),
			slog.Int64("total_ms", res.Proof.Timings.TotalMs),
			slog.Int64("output_bytes", res.Metrics.OutputBytes),
		)
		return res, nil
	}

	if strings.TrimSpace(req.Style) == "" {
		return finish(newError(KindInvalidInput, "validate", errors.New("style is required")))
	}
	style, err := p.catalog.Resolve(req.Style)
	if err != nil {
		return finish(newError(KindInvalidInput, "validate", err))
	}
	if strings.TrimSpace(req.SourceImageURL) == "" {
		return finish(newError(KindMissingInputImage, "validate", errors.New("source image url is required")))
	}
	// Configuration problems are reported before anything is downloaded or billed.
	if p.provider == nil {
		return finish(newError(KindMissingProviderCredential, "validate", errMissingAPIKey))
	}
	if err := p.provider.Ready(); err != nil {
		return finish(newError(KindMissingProviderCredential, "validate", err))
	}
	if p.cfg.PublicBaseURL == "" {
		return finish(newError(KindMissingBaseURL, "validate", errMissingBaseURL))
	}

	fetchStart := p.now()
	src, err := p.fetcher.Fetch(ctx, req.SourceImageURL)
	res.Proof.Timings.FetchMs = p.now().Sub(fetchStart).Milliseconds()
	res.Metrics.FetchAttempts = src.Attempts
	if err != nil {
		return finish(newError(KindMissingInputImage, "fetch", err))
	}
	res.Proof.IncomingByteLen = len(src.Bytes)
	res.Proof.IncomingHash = src.Hash
	if len(src.Bytes) < p.cfg.MinSourceBytes {
		return finish(newError(KindMissingInputImage, "fetch",
			fmt.Errorf("%w: %d < %d bytes", errSourceTooSmall, len(src.Bytes), p.cfg.MinSourceBytes)))
	}

	input := src.Bytes
	res.Proof.PipelineInputHash = SHA256Hex(input)

	providerStart := p.now()
	pctx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
	out, err := p.provider.Edit(pctx, EditRequest{Prompt: style.Prompt, Image: input, Mime: src.Mime})
	timedOut := errors.Is(pctx.Err(), context.DeadlineExceeded)
	cancel()
	res.Proof.Timings.ProviderMs = p.now().Sub(providerStart).Milliseconds()
	if err != nil {
		switch {
		case timedOut || errors.Is(err, context.DeadlineExceeded):
			return finish(newError(KindGenerationTimeout, "provider", err))
		case errors.Is(err, errMissingAPIKey):
			return finish(newError(KindMissingProviderCredential, "provider", err))
		default:
			return finish(newError(KindProviderError, "provider", err))
		}
	}
	if len(out.Image) == 0 {
		return finish(newError(KindProviderError, "persist", errEmptyArtifact))
	}

	persistStart := p.now()
	ext := out.Ext
	if ext == "" {
		ext = "jpg"
	}
	name := fmt.Sprintf("%d-%s.%s", persistStart.UnixMilli(), p.newID(), ext)
	written, err := p.store.Put(ctx, ArtifactPrefix+"/"+name, bytes.NewReader(out.Image))
	res.Proof.Timings.PersistMs = p.now().Sub(persistStart).Milliseconds()
	if err != nil {
		return finish(newError(KindProviderError, "persist", err))
	}
	if written == 0 {
		return finish(newError(KindProviderError, "persist", errEmptyArtifact))
	}
	res.Metrics.OutputBytes = written
	res.ImageURL = p.cfg.PublicBaseURL + "/" + ArtifactPrefix + "/" + name
	res.Proof.OutputURL = res.ImageURL
	return finish(nil)
}
