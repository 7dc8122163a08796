package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// eventWriter is the part of Producer the publisher needs
type eventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events. Events are keyed by
// tenant so each tenant's events stay ordered within a partition.
type EventPublisher struct {
	producer eventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func tenantKey(tenantID string) string {
	return fmt.Sprintf("tenant-%s", tenantID)
}

// PublishCheckoutCreated publishes CheckoutCreated event
func (ep *EventPublisher) PublishCheckoutCreated(ctx context.Context, event *models.CheckoutCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.TenantID), event)
}

// PublishOrderSettled publishes OrderSettled event
func (ep *EventPublisher) PublishOrderSettled(ctx context.Context, event *models.OrderSettledEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.TenantID), event)
}

// PublishOversellDetected publishes OversellDetected event
func (ep *EventPublisher) PublishOversellDetected(ctx context.Context, event *models.OversellDetectedEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.TenantID), event)
}

// PublishPaymentAccountUpdated publishes PaymentAccountUpdated event
func (ep *EventPublisher) PublishPaymentAccountUpdated(ctx context.Context, event *models.PaymentAccountUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.TenantID), event)
}

// PublishCheckoutSessionFailed publishes CheckoutSessionFailed event
func (ep *EventPublisher) PublishCheckoutSessionFailed(ctx context.Context, event *models.CheckoutSessionFailedEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.TenantID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onAccountUpdated   func(context.Context, *models.PaymentAccountUpdatedEvent) error
	onOversellDetected func(context.Context, *models.OversellDetectedEvent) error
	onOrderSettled     func(context.Context, *models.OrderSettledEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentAccountUpdated registers a handler for PaymentAccountUpdated events
func (eh *EventHandler) OnPaymentAccountUpdated(handler func(context.Context, *models.PaymentAccountUpdatedEvent) error) {
	eh.onAccountUpdated = handler
}

// OnOversellDetected registers a handler for OversellDetected events
func (eh *EventHandler) OnOversellDetected(handler func(context.Context, *models.OversellDetectedEvent) error) {
	eh.onOversellDetected = handler
}

// OnOrderSettled registers a handler for OrderSettled events
func (eh *EventHandler) OnOrderSettled(handler func(context.Context, *models.OrderSettledEvent) error) {
	eh.onOrderSettled = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID),
		zap.String("tenant_id", baseEvent.TenantID))

	switch baseEvent.EventType {
	case models.EventTypePaymentAccountUpdated:
		if eh.onAccountUpdated != nil {
			var event models.PaymentAccountUpdatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentAccountUpdated event: %w", err)
			}
			return eh.onAccountUpdated(ctx, &event)
		}

	case models.EventTypeOversellDetected:
		if eh.onOversellDetected != nil {
			var event models.OversellDetectedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OversellDetected event: %w", err)
			}
			return eh.onOversellDetected(ctx, &event)
		}

	case models.EventTypeOrderSettled:
		if eh.onOrderSettled != nil {
			var event models.OrderSettledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderSettled event: %w", err)
			}
			return eh.onOrderSettled(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
