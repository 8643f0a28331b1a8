package generation

import (
	"errors"
	"fmt"
)

// Kind classifies a generation failure. The set is closed; callers switch on
// it exhaustively.
type Kind string

const (
	KindInvalidInput              Kind = "InvalidInput"
	KindMissingInputImage         Kind = "MissingInputImage"
	KindMissingProviderCredential Kind = "MissingProviderCredential"
	KindMissingBaseURL            Kind = "MissingBaseUrl"
	KindGenerationTimeout         Kind = "GenerationTimeout"
	KindProviderError             Kind = "ProviderError"
)

// Kinds returns every defined kind.
func Kinds() []Kind {
	return []Kind{
		KindInvalidInput,
		KindMissingInputImage,
		KindMissingProviderCredential,
		KindMissingBaseURL,
		KindGenerationTimeout,
		KindProviderError,
	}
}

// Error is a classified generation failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from err if it wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

var (
	errSourceTooSmall   = errors.New("source image too small")
	errSourceTooLarge   = errors.New("source image too large")
	errInvalidSourceURL = errors.New("invalid source url")
	errEmptyArtifact    = errors.New("generated image is empty")
	errMissingPayload   = errors.New("provider response has no image")
	errResultTooLarge   = errors.New("provider response too large")
	errMissingAPIKey    = errors.New("provider api key is not configured")
	errMissingBaseURL   = errors.New("public base url is not configured")
)
