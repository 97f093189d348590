package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meet-server/internal/callengine"
)

// WebhookReceiver authenticates and decodes webhook requests from the media server.
type WebhookReceiver interface {
	ReceiveWebhook(r *http.Request) (*lkproto.WebhookEvent, error)
}

// WebhookProcessor acts on verified webhook events.
type WebhookProcessor interface {
	Handle(ctx context.Context, event *lkproto.WebhookEvent) error
}

// WebhookHandlers provides the LiveKit webhook endpoint.
type WebhookHandlers struct {
	receiver  WebhookReceiver
	processor WebhookProcessor
	log       *zerolog.Logger
}

// NewWebhookHandlers creates a new webhook handlers instance.
func NewWebhookHandlers(receiver WebhookReceiver, processor WebhookProcessor, logger *zerolog.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		receiver:  receiver,
		processor: processor,
		log:       logger,
	}
}

// StatusResponse is the body of simple acknowledgements.
type StatusResponse struct {
	Status string `json:"status"`
}

// Receive handles a webhook delivery.
// POST /api/webhook
func (h *WebhookHandlers) Receive(c *gin.Context) {
	event, err := h.receiver.ReceiveWebhook(c.Request)
	if err != nil {
		if errors.Is(err, callengine.ErrSignerNotConfigured) {
			h.log.Error().Err(err).Msg("webhook verification not configured")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "server misconfigured"})
			return
		}
		h.log.Debug().Err(err).Msg("rejected webhook")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid webhook"})
		return
	}

	if err := h.processor.Handle(c.Request.Context(), event); err != nil {
		h.log.Warn().Err(err).Str("event", event.GetEvent()).Str("room", event.GetRoom().GetName()).Msg("failed to handle webhook")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}
