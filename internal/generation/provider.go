package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// EditRequest asks a provider to restyle one image.
type EditRequest struct {
	Prompt string
	Image  []byte
	Mime   string
}

// EditResponse is the provider's output image.
type EditResponse struct {
	Image []byte
	// Ext is the file extension to store the image under, without a dot.
	Ext string
}

// Provider is an image editing backend.
type Provider interface {
	// Ready reports a configuration problem without touching the network.
	Ready() error
	Edit(ctx context.Context, req EditRequest) (EditResponse, error)
}

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Size         string
	OutputFormat string
}

// OpenAIProvider calls the OpenAI images edit endpoint.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	// maxResultBytes bounds both the JSON response and a downloaded image.
	maxResultBytes int64
}

// NewOpenAIProvider creates a provider. A nil client uses a default client;
// deadlines come from the caller's context.
func NewOpenAIProvider(cfg OpenAIConfig, client *http.Client) *OpenAIProvider {
	if client == nil {
		client = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "jpeg"
	}
	return &OpenAIProvider{cfg: cfg, client: client, maxResultBytes: MaxSourceBytes * 2}
}

func (p *OpenAIProvider) Ready() error {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return errMissingAPIKey
	}
	return nil
}

type openAIImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Edit(ctx context.Context, req EditRequest) (EditResponse, error) {
	if err := p.Ready(); err != nil {
		return EditResponse{}, err
	}
	body, contentType, err := p.buildForm(req)
	if err != nil {
		return EditResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/images/edits", body)
	if err != nil {
		return EditResponse{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(p.cfg.APIKey))
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return EditResponse{}, err
	}
	defer resp.Body.Close()
	raw, err := p.readLimited(resp.Body)
	if err != nil {
		return EditResponse{}, fmt.Errorf("read response: %w", err)
	}

	var parsed openAIImageResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return EditResponse{}, &statusError{code: resp.StatusCode, msg: msg}
	}
	if len(parsed.Data) == 0 {
		return EditResponse{}, errMissingPayload
	}
	ext := extForFormat(p.cfg.OutputFormat)
	first := parsed.Data[0]
	switch {
	case first.B64JSON != "":
		img, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return EditResponse{}, fmt.Errorf("decode b64_json: %w", err)
		}
		return EditResponse{Image: img, Ext: ext}, nil
	case first.URL != "":
		img, err := p.download(ctx, first.URL)
		if err != nil {
			return EditResponse{}, err
		}
		return EditResponse{Image: img, Ext: ext}, nil
	default:
		return EditResponse{}, errMissingPayload
	}
}

func (p *OpenAIProvider) buildForm(req EditRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"model", p.cfg.Model},
		{"prompt", req.Prompt},
		{"output_format", p.cfg.OutputFormat},
		{"size", p.cfg.Size},
	}
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	mime := req.Mime
	if mime == "" {
		mime = "image/jpeg"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="source.%s"`, extForMime(mime)))
	h.Set("Content-Type", mime)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func (p *OpenAIProvider) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode}
	}
	data, err := p.readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download: %w", err)
	}
	return data, nil
}

func (p *OpenAIProvider) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.maxResultBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.maxResultBytes {
		return nil, fmt.Errorf("%w: max %d bytes", errResultTooLarge, p.maxResultBytes)
	}
	return data, nil
}

func extForFormat(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpg"
	}
}

func extForMime(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}
