package messenger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/leaderbot/leaderbot/internal/channel"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

type inboundManager interface {
	HandleInbound(ctx context.Context, msg channel.InboundMessage) error
}

// WebhookConfig holds the secrets the webhook checks.
type WebhookConfig struct {
	AppSecret   string
	VerifyToken string
}

// WebhookHandler receives Messenger webhook callbacks.
type WebhookHandler struct {
	logger  *slog.Logger
	cfg     WebhookConfig
	manager inboundManager
}

// NewWebhookHandler creates the public webhook handler.
func NewWebhookHandler(log *slog.Logger, cfg WebhookConfig, manager inboundManager) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:  log.With(slog.String("handler", "messenger_webhook")),
		cfg:     cfg,
		manager: manager,
	}
}

// Register registers webhook routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhook/facebook", h.HandleVerify)
	e.POST("/webhook/facebook", h.Handle)
}

// HandleVerify answers the subscription handshake.
func (h *WebhookHandler) HandleVerify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode != "subscribe" || h.cfg.VerifyToken == "" || token != h.cfg.VerifyToken {
		h.logger.Warn("webhook verification rejected", slog.String("mode", mode))
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// Handle verifies the signature, parses the body and queues every event.
// It acknowledges with 200 before any generation work happens.
func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.manager == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "messenger webhook dependencies not configured")
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}
	if err := VerifySignature(h.cfg.AppSecret, payload, c.Request().Header.Get(SignatureHeader)); err != nil {
		if errors.Is(err, ErrMissingAppSecret) {
			h.logger.Error("webhook rejected", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "webhook not configured")
		}
		h.logger.Warn("webhook signature rejected", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
	}

	body, err := Decode(payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	h.logger.Info("webhook received", slog.Any("summary", Summarize(body)))

	// A non-2xx answer makes the platform redeliver the batch; events that
	// were queued are then dropped by dedupe.
	ctx := context.WithoutCancel(c.Request().Context())
	dropped := 0
	for _, msg := range Parse(body) {
		if err := h.manager.HandleInbound(ctx, msg); err != nil {
			dropped++
			h.logger.Warn("inbound event not queued", slog.String("kind", string(msg.Kind)), slog.Any("error", err))
		}
	}
	if dropped > 0 {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event queue unavailable")
	}
	return c.String(http.StatusOK, "EVENT_RECEIVED")
}
