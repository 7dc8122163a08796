package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/pricing"
	"checkout-service/internal/processor"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Outcome describes what handling an event did
type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeUnpaid         Outcome = "unpaid"
	OutcomeSessionFailed  Outcome = "session_failed"
	OutcomeAccountUpdated Outcome = "account_updated"
	OutcomeIgnored        Outcome = "ignored"
)

// SettlementResult is returned for every acknowledged event
type SettlementResult struct {
	Outcome   Outcome `json:"outcome"`
	TenantID  string  `json:"tenant_id,omitempty"`
	OrderID   int64   `json:"order_id,omitempty"`
	Anomalies int     `json:"anomalies,omitempty"`
}

// SettlementProcessor applies verified processor events exactly once
type SettlementProcessor struct {
	store     Store
	processor processor.Processor
	tracker   *AccountTracker
	publisher Publisher
	now       func() time.Time
	logger    *zap.Logger
}

// NewSettlementProcessor creates a new settlement processor
func NewSettlementProcessor(
	store Store,
	proc processor.Processor,
	tracker *AccountTracker,
	publisher Publisher,
) *SettlementProcessor {
	return &SettlementProcessor{
		store:     store,
		processor: proc,
		tracker:   tracker,
		publisher: publisher,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// HandleEvent routes a verified event. ErrMalformedEvent means the event can
// never succeed; any other error is transient and safe to redeliver.
func (p *SettlementProcessor) HandleEvent(ctx context.Context, evt *processor.Event) (*SettlementResult, error) {
	ctx, span := util.StartSpan(ctx, "SettlementProcessor.HandleEvent")
	defer span.End()

	var (
		result *SettlementResult
		err    error
	)

	switch evt.Type {
	case processor.EventCheckoutCompleted, processor.EventCheckoutAsyncPaymentOK:
		result, err = p.settle(ctx, evt)
	case processor.EventCheckoutExpired, processor.EventCheckoutAsyncPaymentFailed:
		result, err = p.failSession(ctx, evt)
	case processor.EventAccountUpdated:
		result, err = p.applyAccountUpdate(ctx, evt)
	default:
		result = &SettlementResult{Outcome: OutcomeIgnored}
	}

	if err != nil {
		util.RecordError(span, err)
		outcome := "retry"
		if errors.Is(err, ErrMalformedEvent) {
			outcome = "rejected"
		}
		util.WebhookEventsTotal.WithLabelValues(evt.Type, outcome).Inc()
		return nil, err
	}

	util.WebhookEventsTotal.WithLabelValues(evt.Type, string(result.Outcome)).Inc()
	return result, nil
}

type resolvedLine struct {
	productID int64
	quantity  int
	unitPrice int64
	lineTotal int64
}

// sessionTenant resolves and authenticates the tenant a checkout event belongs to
func (p *SettlementProcessor) sessionTenant(ctx context.Context, evt *processor.Event) (*processor.CheckoutSession, *models.SessionMetadata, *models.Tenant, error) {
	sess, err := evt.DecodeCheckoutSession()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	meta, err := models.ParseSessionMetadata(sess.ID, sess.Metadata)
	if err != nil {
		p.logger.Error("Rejecting settlement event",
			zap.String("event_id", evt.ID),
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	tenant, err := p.store.GetTenant(ctx, meta.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil, fmt.Errorf("%w: unknown tenant %s", ErrMalformedEvent, meta.TenantID)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	// metadata is set by us, but only the connected account proves which
	// tenant the processor actually charged for
	if evt.AccountID == "" || evt.AccountID != tenant.AccountRef() {
		p.logger.Error("Settlement account does not match tenant",
			zap.String("event_id", evt.ID),
			zap.String("tenant_id", tenant.ID),
			zap.String("event_account", evt.AccountID))
		return nil, nil, nil, fmt.Errorf("%w: account mismatch for tenant %s", ErrMalformedEvent, tenant.ID)
	}

	return sess, meta, tenant, nil
}

func (p *SettlementProcessor) settle(ctx context.Context, evt *processor.Event) (*SettlementResult, error) {
	sess, meta, tenant, err := p.sessionTenant(ctx, evt)
	if err != nil {
		return nil, err
	}
	logger := util.WithTenant(p.logger, tenant.ID).With(
		zap.String("session_id", sess.ID),
		zap.String("event_id", evt.ID))

	if !sess.Paid() {
		logger.Info("Session completed without captured payment, awaiting async result",
			zap.String("payment_status", sess.PaymentStatus))
		return &SettlementResult{Outcome: OutcomeUnpaid, TenantID: tenant.ID}, nil
	}

	lines, err := p.resolveLines(ctx, tenant, sess.ID, logger)
	if err != nil {
		return nil, err
	}

	order := orderFromSession(tenant.ID, sess, meta)

	var (
		anomalies []models.InventoryAnomaly
		completed bool
	)
	err = p.store.RunInTx(ctx, func(tx store.Tx) error {
		anomalies = nil
		order.ID = 0

		if err := tx.InsertProcessedEvent(ctx, &models.ProcessedEvent{
			TenantID:  tenant.ID,
			EventKey:  sess.ID,
			EventID:   evt.ID,
			EventType: evt.Type,
		}); err != nil {
			return err
		}

		for _, line := range lines {
			ok, err := tx.DecrementStock(ctx, tenant.ID, line.productID, line.quantity)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			anomaly := models.InventoryAnomaly{
				TenantID:   tenant.ID,
				ProductID:  line.productID,
				SessionRef: sess.ID,
				Requested:  line.quantity,
				Kind:       models.AnomalyKindOversell,
			}
			if err := tx.RecordAnomaly(ctx, &anomaly); err != nil {
				return err
			}
			anomalies = append(anomalies, anomaly)
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.CreateOrderItem(ctx, &models.OrderItem{
				OrderID:   order.ID,
				TenantID:  tenant.ID,
				ProductID: line.productID,
				Quantity:  line.quantity,
				UnitPrice: line.unitPrice,
				LineTotal: line.lineTotal,
			}); err != nil {
				return err
			}
		}

		var err error
		completed, err = tx.CompleteTransaction(ctx, tenant.ID, sess.ID)
		return err
	})

	if errors.Is(err, store.ErrCommitUnknown) {
		err = p.confirmCommit(ctx, tenant.ID, sess.ID, evt.ID, err, logger)
	}
	if errors.Is(err, store.ErrDuplicateEvent) {
		util.DuplicateDeliveriesTotal.Inc()
		logger.Info("Duplicate settlement delivery, already applied")
		return &SettlementResult{Outcome: OutcomeDuplicate, TenantID: tenant.ID}, nil
	}
	if err != nil {
		logger.Error("Settlement failed, leaving for redelivery", zap.Error(err))
		return nil, fmt.Errorf("failed to settle session: %w", err)
	}

	util.OrdersSettledTotal.Inc()
	if !completed {
		logger.Info("No open transaction for settled session")
	}
	logger.Info("Session settled",
		zap.Int64("order_id", order.ID),
		zap.Int("lines", len(lines)),
		zap.Int("oversold", len(anomalies)))

	p.publishSettled(ctx, order, lines, anomalies, logger)

	return &SettlementResult{
		Outcome:   OutcomeSettled,
		TenantID:  tenant.ID,
		OrderID:   order.ID,
		Anomalies: len(anomalies),
	}, nil
}

// confirmCommit resolves a commit whose outcome was lost with the connection.
// The ledger row holding this event's id means the transaction landed.
func (p *SettlementProcessor) confirmCommit(ctx context.Context, tenantID, eventKey, eventID string, commitErr error, logger *zap.Logger) error {
	claimed, err := p.store.ProcessedEventID(ctx, tenantID, eventKey)
	if errors.Is(err, store.ErrNotFound) {
		return commitErr
	}
	if err != nil {
		logger.Error("Could not confirm commit", zap.Error(err))
		return commitErr
	}
	if claimed != eventID {
		return store.ErrDuplicateEvent
	}
	logger.Warn("Commit confirmed after connection loss")
	return nil
}

// resolveLines maps purchased lines to the tenant's products, dropping the
// tax line and anything unresolvable. Lines come back in ascending product
// id order so concurrent settlements lock rows in the same order.
func (p *SettlementProcessor) resolveLines(ctx context.Context, tenant *models.Tenant, sessionID string, logger *zap.Logger) ([]resolvedLine, error) {
	items, err := p.processor.ListSessionLineItems(ctx, tenant.AccountRef(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session line items: %w", err)
	}

	candidates := make([]processor.LineItem, 0, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if item.IsTax() {
			continue
		}
		if item.ProductID <= 0 || item.Quantity <= 0 {
			logger.Warn("Skipping line without resolvable product",
				zap.String("line_id", item.ID),
				zap.String("description", item.Description))
			continue
		}
		candidates = append(candidates, item)
		ids = append(ids, item.ProductID)
	}

	products, err := p.store.GetProductsByIDs(ctx, tenant.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve products: %w", err)
	}
	owned := make(map[int64]bool, len(products))
	for _, product := range products {
		owned[product.ID] = true
	}

	lines := make([]resolvedLine, 0, len(candidates))
	for _, item := range candidates {
		if !owned[item.ProductID] {
			logger.Warn("Skipping line for product outside tenant catalog",
				zap.String("line_id", item.ID),
				zap.Int64("product_id", item.ProductID))
			continue
		}
		lines = append(lines, resolvedLine{
			productID: item.ProductID,
			quantity:  int(item.Quantity),
			unitPrice: item.UnitAmount,
			lineTotal: item.AmountTotal,
		})
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].productID < lines[j].productID
	})
	return lines, nil
}

// orderFromSession snapshots totals from the event. The recorded figures in
// metadata are preferred; processor totals fill anything missing.
func orderFromSession(tenantID string, sess *processor.CheckoutSession, meta *models.SessionMetadata) *models.Order {
	order := &models.Order{
		TenantID:   tenantID,
		SessionRef: sess.ID,
		ActorID:    meta.ActorID,
		Total:      sess.AmountTotal,
		Discount:   sess.TotalDetails.AmountDiscount,
		Tax:        sess.TotalDetails.AmountTax,
		Status:     models.OrderStatusCompleted,
	}

	if v, ok := auditAmount(meta, models.MetaTax); ok {
		order.Tax = v
	}
	if v, ok := auditAmount(meta, models.MetaDiscount); ok {
		order.Discount = v
	}
	if v, ok := auditAmount(meta, models.MetaPlatformFee); ok {
		order.PlatformFee = v
	}
	order.Subtotal = order.Total - order.Tax
	if v, ok := auditAmount(meta, models.MetaSubtotal); ok {
		order.Subtotal = v
	}
	return order
}

func auditAmount(meta *models.SessionMetadata, key string) (int64, bool) {
	raw, ok := meta.Audit[key]
	if !ok || raw == "" {
		return 0, false
	}
	v, err := pricing.ParseMinor(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// publishSettled runs after commit; failures only log since the effects are durable
func (p *SettlementProcessor) publishSettled(ctx context.Context, order *models.Order, lines []resolvedLine, anomalies []models.InventoryAnomaly, logger *zap.Logger) {
	items := make([]models.OrderItemData, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.OrderItemData{
			ProductID: line.productID,
			Quantity:  line.quantity,
			UnitPrice: line.unitPrice,
		})
	}

	event := &models.OrderSettledEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeOrderSettled, order.TenantID),
		OrderID:    order.ID,
		SessionRef: order.SessionRef,
		Total:      order.Total,
		Items:      items,
	}
	if err := p.publisher.PublishOrderSettled(ctx, event); err != nil {
		logger.Error("Failed to publish OrderSettled event", zap.Error(err))
	}

	for _, anomaly := range anomalies {
		util.InventoryOversellTotal.Inc()
		logger.Warn("Oversell detected, stock left unchanged",
			zap.Int64("product_id", anomaly.ProductID),
			zap.Int("requested", anomaly.Requested))

		oversell := &models.OversellDetectedEvent{
			BaseEvent:  models.NewBaseEvent(models.EventTypeOversellDetected, anomaly.TenantID),
			ProductID:  anomaly.ProductID,
			SessionRef: anomaly.SessionRef,
			Requested:  anomaly.Requested,
		}
		if err := p.publisher.PublishOversellDetected(ctx, oversell); err != nil {
			logger.Error("Failed to publish OversellDetected event", zap.Error(err))
		}
	}
}

// failSession marks the pending transaction of an expired or declined session failed
func (p *SettlementProcessor) failSession(ctx context.Context, evt *processor.Event) (*SettlementResult, error) {
	sess, _, tenant, err := p.sessionTenant(ctx, evt)
	if err != nil {
		return nil, err
	}

	failed, err := p.store.FailPendingTransaction(ctx, tenant.ID, sess.ID)
	if err != nil {
		return nil, err
	}

	if failed {
		p.logger.Info("Checkout session failed",
			zap.String("tenant_id", tenant.ID),
			zap.String("session_id", sess.ID),
			zap.String("reason", evt.Type))

		event := &models.CheckoutSessionFailedEvent{
			BaseEvent:  models.NewBaseEvent(models.EventTypeCheckoutSessionFailed, tenant.ID),
			SessionRef: sess.ID,
			Reason:     evt.Type,
		}
		if err := p.publisher.PublishCheckoutSessionFailed(ctx, event); err != nil {
			p.logger.Error("Failed to publish CheckoutSessionFailed event", zap.Error(err))
		}
	}

	return &SettlementResult{Outcome: OutcomeSessionFailed, TenantID: tenant.ID}, nil
}

// applyAccountUpdate overwrites the capability flags of the tenant owning
// the account. Unknown accounts are acknowledged so they are not redelivered.
func (p *SettlementProcessor) applyAccountUpdate(ctx context.Context, evt *processor.Event) (*SettlementResult, error) {
	acct, err := evt.DecodeAccount()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	accountID := acct.ID
	if evt.AccountID != "" {
		if accountID != "" && accountID != evt.AccountID {
			return nil, fmt.Errorf("%w: account %s reported for %s", ErrMalformedEvent, accountID, evt.AccountID)
		}
		accountID = evt.AccountID
	}
	if accountID == "" || evt.ID == "" {
		return nil, fmt.Errorf("%w: account event without ids", ErrMalformedEvent)
	}
	acct.ID = accountID

	tenant, err := p.store.GetTenantByAccountRef(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Info("Account update for unknown account", zap.String("account_id", accountID))
		return &SettlementResult{Outcome: OutcomeIgnored}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	syncedAt := p.now().UTC()
	flags := flagsOf(acct)

	err = p.store.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertProcessedEvent(ctx, &models.ProcessedEvent{
			TenantID:  tenant.ID,
			EventKey:  evt.ID,
			EventID:   evt.ID,
			EventType: evt.Type,
		}); err != nil {
			return err
		}
		return tx.UpdatePaymentAccountFlags(ctx, tenant.ID, flags, syncedAt)
	})
	if errors.Is(err, store.ErrCommitUnknown) {
		err = p.confirmCommit(ctx, tenant.ID, evt.ID, evt.ID, err, util.WithTenant(p.logger, tenant.ID))
	}
	if errors.Is(err, store.ErrDuplicateEvent) {
		util.DuplicateDeliveriesTotal.Inc()
		return &SettlementResult{Outcome: OutcomeDuplicate, TenantID: tenant.ID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply account update: %w", err)
	}

	updated := models.NewPaymentAccount(accountID, flags, &syncedAt)
	p.logger.Info("Payment account updated",
		zap.String("tenant_id", tenant.ID),
		zap.String("account_id", accountID),
		zap.String("state", string(updated.State)))

	p.tracker.AccountSynced(ctx, tenant.ID, updated)

	return &SettlementResult{Outcome: OutcomeAccountUpdated, TenantID: tenant.ID}, nil
}
