package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/leaderbot/leaderbot/internal/orchestrator"
)

const (
	maxQuickReplies     = 13
	maxQuickReplyTitle  = 20
	maxTextRunes        = 2000
	defaultSendTimeout  = 10 * time.Second
	defaultSendRate     = 20
	messagingTypeReply  = "RESPONSE"
	contentTypeText     = "text"
	attachmentTypeImage = "image"
)

var ErrMissingPageToken = errors.New("page access token not configured")

// GraphConfig configures the Send API client.
type GraphConfig struct {
	BaseURL         string
	Version         string
	PageAccessToken string
	RatePerSecond   float64
}

type recipient struct {
	ID string `json:"id" validate:"required"`
}

type outQuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title" validate:"required,max=20"`
	Payload     string `json:"payload" validate:"required,max=1000"`
}

type outAttachmentPayload struct {
	URL        string `json:"url" validate:"required,url"`
	IsReusable bool   `json:"is_reusable"`
}

type outAttachment struct {
	Type    string               `json:"type"`
	Payload outAttachmentPayload `json:"payload"`
}

type outMessage struct {
	Text         string          `json:"text,omitempty" validate:"omitempty,max=2000"`
	QuickReplies []outQuickReply `json:"quick_replies,omitempty" validate:"omitempty,max=13,dive"`
	Attachment   *outAttachment  `json:"attachment,omitempty"`
}

type sendRequest struct {
	Recipient     recipient  `json:"recipient"`
	MessagingType string     `json:"messaging_type"`
	Message       outMessage `json:"message"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// GraphSender delivers actions through the Messenger Send API.
type GraphSender struct {
	cfg      GraphConfig
	client   *http.Client
	limiter  *rate.Limiter
	validate *validator.Validate
	logger   *slog.Logger
}

// NewGraphSender creates a Send API client. A nil client gets a default with
// a short timeout.
func NewGraphSender(log *slog.Logger, cfg GraphConfig, client *http.Client) *GraphSender {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultSendRate
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GraphSender{
		cfg:      cfg,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.With(slog.String("component", "messenger_sender")),
	}
}

func (s *GraphSender) SendText(ctx context.Context, to, text string) error {
	return s.send(ctx, to, outMessage{Text: truncateRunes(text, maxTextRunes)})
}

func (s *GraphSender) SendQuickReplies(ctx context.Context, to, text string, replies []orchestrator.QuickReply) error {
	if len(replies) > maxQuickReplies {
		replies = replies[:maxQuickReplies]
	}
	qrs := make([]outQuickReply, 0, len(replies))
	for _, r := range replies {
		qrs = append(qrs, outQuickReply{
			ContentType: contentTypeText,
			Title:       truncateRunes(r.Title, maxQuickReplyTitle),
			Payload:     r.Payload,
		})
	}
	return s.send(ctx, to, outMessage{Text: truncateRunes(text, maxTextRunes), QuickReplies: qrs})
}

func (s *GraphSender) SendImage(ctx context.Context, to, imageURL string) error {
	return s.send(ctx, to, outMessage{Attachment: &outAttachment{
		Type:    attachmentTypeImage,
		Payload: outAttachmentPayload{URL: imageURL, IsReusable: true},
	}})
}

func (s *GraphSender) send(ctx context.Context, to string, msg outMessage) error {
	if s.cfg.PageAccessToken == "" {
		return ErrMissingPageToken
	}
	req := sendRequest{
		Recipient:     recipient{ID: to},
		MessagingType: messagingTypeReply,
		Message:       msg,
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid outbound message: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/me/messages?access_token=%s", s.cfg.BaseURL, s.cfg.Version, url.QueryEscape(s.cfg.PageAccessToken))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		// url.Error embeds the endpoint, which carries the token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("send api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var ge graphError
		if json.Unmarshal(raw, &ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("send api status %d: %s (code %d)", resp.StatusCode, ge.Error.Message, ge.Error.Code)
		}
		return fmt.Errorf("send api status %d", resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
