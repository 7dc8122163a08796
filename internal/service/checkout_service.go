package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/pricing"
	"checkout-service/internal/processor"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CheckoutConfig holds checkout session settings
type CheckoutConfig struct {
	Currency         string
	SuccessURL       string
	CancelURL        string
	ProcessorTimeout time.Duration
	IdempotencyTTL   time.Duration
	LockTTL          time.Duration
}

// CheckoutService opens hosted payment sessions and records pending transactions
type CheckoutService struct {
	store     Store
	processor processor.Processor
	tracker   *AccountTracker
	cache     Cache
	publisher Publisher
	cfg       CheckoutConfig
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	store Store,
	proc processor.Processor,
	tracker *AccountTracker,
	cache Cache,
	publisher Publisher,
	cfg CheckoutConfig,
) *CheckoutService {
	if cfg.LockTTL == 0 {
		cfg.LockTTL = time.Minute
	}
	return &CheckoutService{
		store:     store,
		processor: proc,
		tracker:   tracker,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// CheckoutRequest represents a request to open a checkout session. TenantID,
// ActorID and IdempotencyKey come from the authenticated request, never the body.
type CheckoutRequest struct {
	TenantID        string           `json:"-"`
	ActorID         string           `json:"-"`
	IdempotencyKey  string           `json:"-"`
	Items           []CartItem       `json:"items" binding:"required,min=1,dive"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
}

// CartItem represents a line in the cart. UnitPrice is what the client
// displayed; it is compared against the catalog and otherwise ignored.
type CartItem struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,min=1,max=10000"`
	UnitPrice *int64 `json:"unit_price,omitempty"`
}

// CheckoutResponse represents the created session. Amounts are decimal strings.
type CheckoutResponse struct {
	SessionID      string `json:"session_id"`
	URL            string `json:"url"`
	TransactionID  int64  `json:"transaction_id"`
	Subtotal       string `json:"subtotal"`
	Discount       string `json:"discount"`
	Tax            string `json:"tax"`
	GrandTotal     string `json:"grand_total"`
	PlatformFee    string `json:"platform_fee"`
	MerchantAmount string `json:"merchant_amount"`
	ExpiresAt      int64  `json:"expires_at,omitempty"`
}

// CreateCheckout validates readiness, prices the cart from the catalog, opens
// the processor session and only then records the pending transaction
func (s *CheckoutService) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartTenantSpan(ctx, "CheckoutService.CreateCheckout", req.TenantID)
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	logger := util.WithTenant(s.logger, req.TenantID).With(zap.String("actor_id", req.ActorID))

	items, discount, err := normalizeCart(req)
	if err != nil {
		util.CheckoutSessionsFailedTotal.WithLabelValues("invalid_cart").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if resp := s.replay(ctx, req.TenantID, req.IdempotencyKey); resp != nil {
			util.CheckoutIdempotentReplaysTotal.Inc()
			logger.Info("Duplicate checkout request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("session_id", resp.SessionID))
			return resp, nil
		}

		lockKey := fmt.Sprintf("checkout:%s:%s", req.TenantID, req.IdempotencyKey)
		token, err := s.cache.AcquireLock(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to lock checkout: %w", err)
		}
		if token == "" {
			return nil, ErrCheckoutInProgress
		}
		defer func() {
			if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
				logger.Warn("Failed to release checkout lock", zap.Error(err))
			}
		}()
	}

	ready, err := s.tracker.IsReadyForCheckout(ctx, req.TenantID)
	if err != nil {
		util.CheckoutSessionsFailedTotal.WithLabelValues("account_status").Inc()
		return nil, err
	}
	if !ready {
		util.CheckoutNeedsOnboardingTotal.Inc()
		logger.Info("Checkout refused, payment account not complete")
		return nil, ErrNeedsOnboarding
	}

	tenant, err := s.store.GetTenant(ctx, req.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, req.TenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	accountID := tenant.AccountRef()

	products, err := s.loadProducts(ctx, req.TenantID, items)
	if err != nil {
		util.CheckoutSessionsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	if err := s.syncPrices(ctx, accountID, items, products); err != nil {
		util.CheckoutSessionsFailedTotal.WithLabelValues("price_mapping").Inc()
		return nil, err
	}

	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		product := products[item.ProductID]
		if item.UnitPrice != nil && *item.UnitPrice != product.Price {
			logger.Warn("Client price differs from catalog, using catalog price",
				zap.Int64("product_id", product.ID),
				zap.Int64("client_price", *item.UnitPrice),
				zap.Int64("catalog_price", product.Price))
		}
		lines = append(lines, pricing.Line{UnitPrice: product.Price, Quantity: item.Quantity})
	}

	breakdown, err := pricing.Calculate(pricing.Input{
		Lines:              lines,
		DiscountPercent:    discount,
		TaxRatePercent:     tenant.TaxRatePercent,
		PlatformFeePercent: tenant.PlatformFeePercent,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCart, err)
	}
	if breakdown.GrandTotal <= 0 {
		return nil, fmt.Errorf("%w: total must be positive", ErrInvalidCart)
	}

	meta := models.SessionMetadata{
		TenantID: req.TenantID,
		ActorID:  req.ActorID,
		Audit: map[string]string{
			models.MetaDiscountPercent: discount.String(),
			models.MetaTaxRatePercent:  tenant.TaxRatePercent.String(),
			models.MetaSubtotal:        pricing.FormatMinor(breakdown.Subtotal),
			models.MetaDiscount:        pricing.FormatMinor(breakdown.DiscountTotal),
			models.MetaTax:             pricing.FormatMinor(breakdown.Tax),
			models.MetaGrandTotal:      pricing.FormatMinor(breakdown.GrandTotal),
			models.MetaPlatformFee:     pricing.FormatMinor(breakdown.PlatformFee),
		},
	}

	sessionLines := make([]processor.SessionLine, 0, len(items))
	for _, item := range items {
		sessionLines = append(sessionLines, processor.SessionLine{
			PriceRef: products[item.ProductID].PriceRef(),
			Quantity: item.Quantity,
		})
	}

	sessionReq := processor.SessionRequest{
		AccountID:      accountID,
		Currency:       s.cfg.Currency,
		Lines:          sessionLines,
		DiscountAmount: breakdown.DiscountTotal,
		ApplicationFee: breakdown.PlatformFee,
		Metadata:       meta.ToMap(),
		SuccessURL:     s.cfg.SuccessURL,
		CancelURL:      s.cfg.CancelURL,
		IdempotencyKey: req.IdempotencyKey,
	}
	if breakdown.HasTaxLine {
		sessionReq.TaxAmount = breakdown.Tax
		sessionReq.TaxLabel = fmt.Sprintf("Tax (%s%%)", tenant.TaxRatePercent.String())
	}

	session, err := s.createSession(ctx, sessionReq)
	if err != nil {
		util.CheckoutSessionsFailedTotal.WithLabelValues("processor").Inc()
		util.RecordError(span, err)
		logger.Error("Failed to create checkout session", zap.Error(err))
		return nil, err
	}

	txn, err := s.recordPending(ctx, req, session.ID, breakdown)
	if err != nil {
		util.CheckoutSessionsFailedTotal.WithLabelValues("db_error").Inc()
		logger.Error("Session created but pending transaction not recorded",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return nil, err
	}

	util.CheckoutSessionsCreatedTotal.Inc()
	logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.Int64("transaction_id", txn.ID),
		zap.Int64("grand_total", breakdown.GrandTotal),
		zap.Int64("platform_fee", breakdown.PlatformFee))

	event := &models.CheckoutCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeCheckoutCreated, req.TenantID),
		TransactionID: txn.ID,
		SessionRef:    session.ID,
		GrandTotal:    breakdown.GrandTotal,
		PlatformFee:   breakdown.PlatformFee,
	}
	if err := s.publisher.PublishCheckoutCreated(ctx, event); err != nil {
		logger.Error("Failed to publish CheckoutCreated event", zap.Error(err))
	}

	resp := &CheckoutResponse{
		SessionID:      session.ID,
		URL:            session.URL,
		TransactionID:  txn.ID,
		Subtotal:       pricing.FormatMinor(breakdown.Subtotal),
		Discount:       pricing.FormatMinor(breakdown.DiscountTotal),
		Tax:            pricing.FormatMinor(breakdown.Tax),
		GrandTotal:     pricing.FormatMinor(breakdown.GrandTotal),
		PlatformFee:    pricing.FormatMinor(breakdown.PlatformFee),
		MerchantAmount: pricing.FormatMinor(breakdown.MerchantAmount),
		ExpiresAt:      session.ExpiresAt,
	}

	if req.IdempotencyKey != "" {
		s.remember(ctx, req.TenantID, req.IdempotencyKey, resp)
	}

	return resp, nil
}

// MaxLineQuantity caps the merged quantity of a single product in one cart
const MaxLineQuantity = 10000

// normalizeCart merges repeated products and validates quantities and discount
func normalizeCart(req *CheckoutRequest) ([]CartItem, decimal.Decimal, error) {
	if len(req.Items) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: cart is empty", ErrInvalidCart)
	}

	discount := decimal.Zero
	if req.DiscountPercent != nil {
		discount = *req.DiscountPercent
	}
	if discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(100)) {
		return nil, decimal.Zero, fmt.Errorf("%w: discount must be between 0 and 100", ErrInvalidCart)
	}

	merged := make([]CartItem, 0, len(req.Items))
	index := make(map[int64]int, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: invalid product id %d", ErrInvalidCart, item.ProductID)
		}
		if item.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: quantity must be positive for product %d", ErrInvalidCart, item.ProductID)
		}
		if item.Quantity > MaxLineQuantity {
			return nil, decimal.Zero, fmt.Errorf("%w: quantity above %d for product %d", ErrInvalidCart, MaxLineQuantity, item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			if merged[i].Quantity > MaxLineQuantity {
				return nil, decimal.Zero, fmt.Errorf("%w: quantity above %d for product %d", ErrInvalidCart, MaxLineQuantity, item.ProductID)
			}
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, discount, nil
}

// loadProducts resolves every cart product within the tenant
func (s *CheckoutService) loadProducts(ctx context.Context, tenantID string, items []CartItem) (map[int64]*models.Product, error) {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrProductNotFound, missing)
	}
	return byID, nil
}

// syncPrices creates processor prices for products that never got one or
// whose catalog price changed since theirs was created
func (s *CheckoutService) syncPrices(ctx context.Context, accountID string, items []CartItem, products map[int64]*models.Product) error {
	for _, item := range items {
		product := products[item.ProductID]
		if product.PriceCurrent() {
			continue
		}

		priceRef, err := s.processor.CreatePrice(ctx, accountID, processor.PriceRequest{
			ProductID:  product.ID,
			Name:       product.Name,
			UnitAmount: product.Price,
			Currency:   s.cfg.Currency,
		})
		if err != nil {
			s.logger.Warn("Price sync failed",
				zap.String("tenant_id", product.TenantID),
				zap.Int64("product_id", product.ID),
				zap.Error(err))
			return fmt.Errorf("%w: product %d: %v", ErrPriceMappingMissing, product.ID, err)
		}

		if err := s.store.SetProductPriceRef(ctx, product.TenantID, product.ID, priceRef, product.Price); err != nil {
			// the session can still use the price; the next checkout retries the write
			s.logger.Warn("Failed to store price ref",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
		}
		amount := product.Price
		product.StripePriceID = &priceRef
		product.StripePriceAmount = &amount
	}
	return nil
}

func (s *CheckoutService) createSession(ctx context.Context, req processor.SessionRequest) (*processor.Session, error) {
	if s.cfg.ProcessorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
		defer cancel()
	}

	session, err := s.processor.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session, nil
}

// recordPending stores the pending transaction. A replayed processor session
// already has one, which is returned as is.
func (s *CheckoutService) recordPending(ctx context.Context, req *CheckoutRequest, sessionID string, b *pricing.Breakdown) (*models.Transaction, error) {
	txn := &models.Transaction{
		TenantID:    req.TenantID,
		SessionRef:  sessionID,
		Amount:      b.MerchantAmount,
		GrossAmount: b.GrandTotal,
		PlatformFee: b.PlatformFee,
		Status:      models.TransactionStatusPending,
		Category:    models.TransactionCategorySale,
		ActorID:     req.ActorID,
	}

	err := s.store.CreateTransaction(ctx, txn)
	if errors.Is(err, store.ErrDuplicateEvent) {
		return s.store.GetTransactionBySession(ctx, req.TenantID, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return txn, nil
}

func (s *CheckoutService) replay(ctx context.Context, tenantID, key string) *CheckoutResponse {
	raw, err := s.cache.GetIdempotentResponse(ctx, tenantID, key)
	if err != nil {
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			s.logger.Warn("Idempotency lookup failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return nil
	}

	var resp CheckoutResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.logger.Warn("Discarding unreadable idempotent response", zap.Error(err))
		return nil
	}
	return &resp
}

func (s *CheckoutService) remember(ctx context.Context, tenantID, key string, resp *CheckoutResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.SetIdempotentResponse(ctx, tenantID, key, raw, s.cfg.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotent response", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// ReapStalePending fails pending transactions whose sessions can no longer be paid
func (s *CheckoutService) ReapStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ReapStalePending")
	defer span.End()

	n, err := s.store.FailStalePendingTransactions(ctx, time.Now().Add(-olderThan))
	if err != nil {
		util.RecordError(span, err)
		return 0, err
	}
	if n > 0 {
		util.PendingTransactionsReapedTotal.Add(float64(n))
		s.logger.Info("Reaped stale pending transactions", zap.Int64("count", n))
	}
	return n, nil
}
