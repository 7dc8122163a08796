package worker

import (
	"context"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

type messageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

type accountRefresher interface {
	RefreshStatus(ctx context.Context, tenantID string) (*service.AccountStatus, error)
}

// ReconciliationWorker consumes the service's own domain events and
// converges payment-account state after out-of-order deliveries
type ReconciliationWorker struct {
	consumer     messageSource
	eventHandler *broker.EventHandler
	tracker      accountRefresher
	logger       *zap.Logger
}

// NewReconciliationWorker creates a new reconciliation worker
func NewReconciliationWorker(consumer messageSource, tracker accountRefresher) *ReconciliationWorker {
	w := &ReconciliationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		tracker:      tracker,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnPaymentAccountUpdated(w.handleAccountUpdated)
	w.eventHandler.OnOversellDetected(w.handleOversell)
	w.eventHandler.OnOrderSettled(w.handleOrderSettled)

	return w
}

// Start blocks consuming events until ctx is cancelled
func (w *ReconciliationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reconciliation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ReconciliationWorker) Stop() error {
	w.logger.Info("Stopping reconciliation worker")
	return w.consumer.Close()
}

// handleAccountUpdated re-reads the account from the processor. Webhooks for
// one account may arrive in any order, so the processor's current view wins.
func (w *ReconciliationWorker) handleAccountUpdated(ctx context.Context, event *models.PaymentAccountUpdatedEvent) error {
	status, err := w.tracker.RefreshStatus(ctx, event.TenantID)
	if err != nil {
		w.logger.Warn("Account reconciliation failed",
			zap.String("tenant_id", event.TenantID),
			zap.String("event_state", string(event.State)),
			zap.Error(err))
		return nil
	}

	if status.State != event.State {
		w.logger.Info("Account state converged",
			zap.String("tenant_id", event.TenantID),
			zap.String("event_state", string(event.State)),
			zap.String("current_state", string(status.State)))
	}
	return nil
}

func (w *ReconciliationWorker) handleOversell(_ context.Context, event *models.OversellDetectedEvent) error {
	util.OversellReconciliationsTotal.Inc()
	w.logger.Warn("Oversold product needs restock",
		zap.String("tenant_id", event.TenantID),
		zap.Int64("product_id", event.ProductID),
		zap.String("session_ref", event.SessionRef),
		zap.Int("requested", event.Requested))
	return nil
}

func (w *ReconciliationWorker) handleOrderSettled(_ context.Context, event *models.OrderSettledEvent) error {
	w.logger.Debug("Order settled",
		zap.String("tenant_id", event.TenantID),
		zap.Int64("order_id", event.OrderID),
		zap.Int("items", len(event.Items)))
	return nil
}
