package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"checkout-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	keys   []string
	events []interface{}
}

func (w *recordingWriter) PublishEvent(_ context.Context, key string, event interface{}) error {
	w.keys = append(w.keys, key)
	w.events = append(w.events, event)
	return nil
}

func TestPublisherKeysByTenant(t *testing.T) {
	w := &recordingWriter{}
	ep := &EventPublisher{producer: w}
	ctx := context.Background()

	require.NoError(t, ep.PublishOrderSettled(ctx, &models.OrderSettledEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderSettled, "T1"),
		OrderID:   7,
	}))
	require.NoError(t, ep.PublishOversellDetected(ctx, &models.OversellDetectedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOversellDetected, "T2"),
		ProductID: 42,
	}))

	assert.Equal(t, []string{"tenant-T1", "tenant-T2"}, w.keys)
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

func TestHandleMessageRoutesByType(t *testing.T) {
	eh := NewEventHandler()
	ctx := context.Background()

	var gotAccount *models.PaymentAccountUpdatedEvent
	var gotOversell *models.OversellDetectedEvent
	eh.OnPaymentAccountUpdated(func(_ context.Context, e *models.PaymentAccountUpdatedEvent) error {
		gotAccount = e
		return nil
	})
	eh.OnOversellDetected(func(_ context.Context, e *models.OversellDetectedEvent) error {
		gotOversell = e
		return nil
	})

	err := eh.HandleMessage(ctx, message(t, &models.PaymentAccountUpdatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypePaymentAccountUpdated, "T1"),
		AccountID: "acct_1",
		State:     models.AccountStateComplete,
	}))
	require.NoError(t, err)
	require.NotNil(t, gotAccount)
	assert.Equal(t, "acct_1", gotAccount.AccountID)
	assert.Equal(t, "T1", gotAccount.TenantID)

	err = eh.HandleMessage(ctx, message(t, &models.OversellDetectedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOversellDetected, "T1"),
		ProductID: 42,
		Requested: 2,
	}))
	require.NoError(t, err)
	require.NotNil(t, gotOversell)
	assert.Equal(t, int64(42), gotOversell.ProductID)
}

func TestHandleMessageIgnoresUnknownAndUnregistered(t *testing.T) {
	eh := NewEventHandler()
	ctx := context.Background()

	assert.NoError(t, eh.HandleMessage(ctx, message(t, models.NewBaseEvent("SOMETHING_ELSE", "T1"))))
	assert.NoError(t, eh.HandleMessage(ctx, message(t, &models.OrderSettledEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderSettled, "T1"),
	})))
}

func TestHandleMessagePropagatesHandlerError(t *testing.T) {
	eh := NewEventHandler()
	boom := errors.New("boom")
	eh.OnOversellDetected(func(context.Context, *models.OversellDetectedEvent) error { return boom })

	err := eh.HandleMessage(context.Background(), message(t, &models.OversellDetectedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOversellDetected, "T1"),
	}))
	assert.ErrorIs(t, err, boom)

	err = eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}
