package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"checkout-service/internal/processor"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultMaxWebhookBytes = 64 << 10

type eventApplier interface {
	HandleEvent(ctx context.Context, evt *processor.Event) (*service.SettlementResult, error)
}

// WebhookHandler verifies processor webhooks and hands them to settlement.
// 2xx acknowledges the event, anything else asks the processor to redeliver.
type WebhookHandler struct {
	parser   processor.EventParser
	events   eventApplier
	timeout  time.Duration
	maxBytes int64
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler with a per-event timeout
func NewWebhookHandler(parser processor.EventParser, events eventApplier, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{
		parser:   parser,
		events:   events,
		timeout:  timeout,
		maxBytes: defaultMaxWebhookBytes,
		logger:   util.GetLogger(),
	}
}

// Handle serves POST /webhooks/stripe
func (h *WebhookHandler) Handle(c *gin.Context) {
	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
		return
	}

	evt, err := h.parser.ParseEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, processor.ErrInvalidSignature) {
			h.logger.Warn("Webhook signature verification failed, potential attack",
				zap.String("remote_addr", c.ClientIP()),
				zap.Error(err))
			util.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.events.HandleEvent(ctx, evt)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"received": true,
			"outcome":  result.Outcome,
		})
	case errors.Is(err, service.ErrMalformedEvent):
		// redelivery cannot fix a malformed event
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event"})
	default:
		h.logger.Error("Webhook processing failed, awaiting redelivery",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.Type),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
	}
}
