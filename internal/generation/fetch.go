package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout   = 15 * time.Second
	DefaultMinSourceBytes = 5000
	// MaxSourceBytes caps the size of a downloaded source image.
	MaxSourceBytes int64 = 25 * 1024 * 1024
)

// Source is a downloaded and hashed image.
type Source struct {
	Bytes    []byte
	Mime     string
	Hash     string
	Attempts int
}

// Fetcher downloads source images, retrying once on transient failures.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// NewFetcher creates a fetcher with a per-attempt timeout.
func NewFetcher(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{client: client, timeout: timeout, maxBytes: MaxSourceBytes}
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.code, e.msg)
	}
	return fmt.Sprintf("unexpected status %d", e.code)
}

// Fetch downloads url. A network error or a 408/429/5xx response is retried
// exactly once; every other failure is returned immediately.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Source, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		src, err := f.fetchOnce(ctx, url)
		if err == nil {
			src.Attempts = attempt
			return src, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) {
			return Source{Attempts: attempt}, err
		}
	}
	return Source{Attempts: 2}, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (Source, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %v", errInvalidSourceURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Source{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Source{}, &statusError{code: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Source{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return Source{}, fmt.Errorf("%w: max %d bytes", errSourceTooLarge, f.maxBytes)
	}
	mime := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return Source{Bytes: data, Mime: mime, Hash: SHA256Hex(data)}, nil
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusRequestTimeout ||
			se.code == http.StatusTooManyRequests ||
			se.code >= 500
	}
	if errors.Is(err, errInvalidSourceURL) || errors.Is(err, errSourceTooLarge) {
		return false
	}
	// Anything else failed at the network layer.
	return !errors.Is(err, context.Canceled)
}

// SHA256Hex returns the hex-encoded SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
