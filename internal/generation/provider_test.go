package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderSendsMultipartAndDecodesB64(t *testing.T) {
	t.Parallel()

	image := []byte("source-image-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/images/edits", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "gpt-image-1", r.FormValue("model"))
		assert.Equal(t, "Apply gold style to this photo.", r.FormValue("prompt"))
		assert.Equal(t, "jpeg", r.FormValue("output_format"))
		assert.Equal(t, "1024x1024", r.FormValue("size"))
		f, hdr, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		got, _ := io.ReadAll(f)
		assert.Equal(t, image, got)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"b64_json":"`+base64.StdEncoding.EncodeToString([]byte("result"))+`"}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "gpt-image-1", Size: "1024x1024"}, srv.Client())
	out, err := p.Edit(context.Background(), EditRequest{Prompt: "Apply gold style to this photo.", Image: image, Mime: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), out.Image)
	assert.Equal(t, "jpg", out.Ext)
}

func TestOpenAIProviderDownloadsURLPayload(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/v1/images/edits", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"url":"`+srv.URL+`/files/out.png"}]}`)
	})
	mux.HandleFunc("/files/out.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("png-bytes"))
	})

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", OutputFormat: "png"}, srv.Client())
	out, err := p.Edit(context.Background(), EditRequest{Prompt: "x", Image: []byte("in")})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), out.Image)
	assert.Equal(t, "png", out.Ext)
}

func TestOpenAIProviderErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"non-2xx", http.StatusBadRequest, `{"error":{"message":"bad image"}}`, func(t *testing.T, err error) {
			var se *statusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, http.StatusBadRequest, se.code)
			assert.Contains(t, err.Error(), "bad image")
		}},
		{"no data", http.StatusOK, `{"data":[]}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, errMissingPayload)
		}},
		{"empty entry", http.StatusOK, `{"data":[{}]}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, errMissingPayload)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()
			p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"}, srv.Client())
			_, err := p.Edit(context.Background(), EditRequest{Prompt: "x", Image: []byte("in")})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestOpenAIProviderMissingKeyMakesNoRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m"}, srv.Client())
	assert.ErrorIs(t, p.Ready(), errMissingAPIKey)
	_, err := p.Edit(context.Background(), EditRequest{Prompt: "x", Image: []byte("in")})
	assert.ErrorIs(t, err, errMissingAPIKey)
	assert.Zero(t, hits.Load())
}

func TestOpenAIProviderRejectsOversizedResults(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/v1/images/edits", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"url":"`+srv.URL+`/files/out.png"}]}`)
	})
	mux.HandleFunc("/files/out.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 65))
	})

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"}, srv.Client())
	p.maxResultBytes = 64
	_, err := p.Edit(context.Background(), EditRequest{Prompt: "x", Image: []byte("in")})
	require.ErrorIs(t, err, errResultTooLarge)

	// Exactly at the limit is accepted.
	mux.HandleFunc("/files/exact.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 64))
	})
	data, err := p.download(context.Background(), srv.URL+"/files/exact.png")
	require.NoError(t, err)
	assert.Len(t, data, 64)

	// An oversized JSON body fails before decoding.
	p.maxResultBytes = 8
	_, err = p.Edit(context.Background(), EditRequest{Prompt: "x", Image: []byte("in")})
	require.ErrorIs(t, err, errResultTooLarge)
}
