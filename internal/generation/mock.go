package generation

import (
	"context"
	"errors"
	"strings"

	"github.com/leaderbot/leaderbot/internal/styles"
)

// DemoPrefix is the URL path segment under which demo images are served.
const DemoPrefix = "demo"

// MockGenerator answers every request with the style's bundled demo image.
// It makes no network calls.
type MockGenerator struct {
	catalog       *styles.Catalog
	publicBaseURL string
}

func NewMockGenerator(catalog *styles.Catalog, publicBaseURL string) *MockGenerator {
	return &MockGenerator{
		catalog:       catalog,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
}

func (m *MockGenerator) Generate(_ context.Context, req Request) (Result, error) {
	fail := func(err *Error) (Result, error) {
		return Result{Proof: Proof{ErrorKind: err.Kind}}, err
	}
	if strings.TrimSpace(req.Style) == "" {
		return fail(newError(KindInvalidInput, "validate", errors.New("style is required")))
	}
	style, err := m.catalog.Resolve(req.Style)
	if err != nil {
		return fail(newError(KindInvalidInput, "validate", err))
	}
	if strings.TrimSpace(req.SourceImageURL) == "" {
		return fail(newError(KindMissingInputImage, "validate", errors.New("source image url is required")))
	}
	if m.publicBaseURL == "" {
		return fail(newError(KindMissingBaseURL, "validate", errMissingBaseURL))
	}
	url := m.publicBaseURL + "/" + DemoPrefix + "/" + style.DemoFile
	return Result{
		ImageURL: url,
		Proof:    Proof{OutputURL: url, OK: true},
	}, nil
}
