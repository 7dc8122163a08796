package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/processor"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeState is the whole fake database; transactions work on a clone
type fakeState struct {
	tenants      map[string]*models.Tenant
	products     map[int64]*models.Product
	transactions map[string]*models.Transaction
	orders       map[int64]*models.Order
	items        []models.OrderItem
	ledger       map[string]models.ProcessedEvent
	anomalies    []models.InventoryAnomaly
	nextID       int64
}

func newFakeState() *fakeState {
	return &fakeState{
		tenants:      map[string]*models.Tenant{},
		products:     map[int64]*models.Product{},
		transactions: map[string]*models.Transaction{},
		orders:       map[int64]*models.Order{},
		ledger:       map[string]models.ProcessedEvent{},
	}
}

func (s *fakeState) clone() *fakeState {
	c := newFakeState()
	for k, v := range s.tenants {
		t := *v
		c.tenants[k] = &t
	}
	for k, v := range s.products {
		p := *v
		c.products[k] = &p
	}
	for k, v := range s.transactions {
		t := *v
		c.transactions[k] = &t
	}
	for k, v := range s.orders {
		o := *v
		c.orders[k] = &o
	}
	for k, v := range s.ledger {
		c.ledger[k] = v
	}
	c.items = append([]models.OrderItem(nil), s.items...)
	c.anomalies = append([]models.InventoryAnomaly(nil), s.anomalies...)
	c.nextID = s.nextID
	return c
}

func (s *fakeState) id() int64 {
	s.nextID++
	return s.nextID
}

func key(tenantID, ref string) string {
	return tenantID + "|" + ref
}

type fakeStore struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state *fakeState

	// failOnCreateOrder makes the next n CreateOrder calls inside a tx fail
	failOnCreateOrder int
	// commitApplied and commitLost make the next transactions report a
	// dropped connection at commit, after or instead of applying
	commitApplied int
	commitLost    int
	txAttempts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: newFakeState()}
}

func (f *fakeStore) addTenant(t *models.Tenant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.tenants[t.ID] = t
}

func (f *fakeStore) addProduct(p *models.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == 0 {
		p.ID = f.state.id()
	} else if p.ID > f.state.nextID {
		f.state.nextID = p.ID
	}
	f.state.products[p.ID] = p
}

func (f *fakeStore) addTransaction(t *models.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = f.state.id()
	f.state.transactions[key(t.TenantID, t.SessionRef)] = t
}

func (f *fakeStore) stock(productID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.products[productID].Stock
}

func (f *fakeStore) tenant(id string) models.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.state.tenants[id]
}

// setPrice edits the catalog price without touching the price ref
func (f *fakeStore) setPrice(id, price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.products[id].Price = price
}

func (f *fakeStore) product(id int64) models.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.state.products[id]
}

func (f *fakeStore) transaction(tenantID, sessionRef string) *models.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.state.transactions[key(tenantID, sessionRef)]
	if !ok {
		return nil
	}
	c := *t
	return &c
}

func (f *fakeStore) transactionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.transactions)
}

func (f *fakeStore) ordersFor(tenantID string) []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.state.orders {
		if o.TenantID == tenantID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) itemsFor(orderID int64) []models.OrderItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OrderItem
	for _, it := range f.state.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out
}

func (f *fakeStore) anomalyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.anomalies)
}

func (f *fakeStore) ledgerSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.state.ledger)
}

func (f *fakeStore) GetTenant(_ context.Context, tenantID string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.state.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, store.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (f *fakeStore) GetTenantByAccountRef(_ context.Context, accountID string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.state.tenants {
		if t.AccountRef() == accountID {
			c := *t
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) SetPaymentAccountRef(_ context.Context, tenantID, accountID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.state.tenants[tenantID]
	if !ok || t.StripeAccountID != nil {
		return false, nil
	}
	t.StripeAccountID = &accountID
	return true, nil
}

func (f *fakeStore) UpdatePaymentAccountFlags(_ context.Context, tenantID string, flags models.PaymentAccountFlags, syncedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return updateFlags(f.state, tenantID, flags, syncedAt)
}

func updateFlags(s *fakeState, tenantID string, flags models.PaymentAccountFlags, syncedAt time.Time) error {
	t, ok := s.tenants[tenantID]
	if !ok {
		return store.ErrNotFound
	}
	t.DetailsSubmitted = flags.DetailsSubmitted
	t.ChargesEnabled = flags.ChargesEnabled
	t.PayoutsEnabled = flags.PayoutsEnabled
	t.AccountSyncedAt = &syncedAt
	return nil
}

func (f *fakeStore) ListTenantsPendingOnboarding(_ context.Context, limit int) ([]models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Tenant
	for _, t := range f.state.tenants {
		if t.StripeAccountID != nil && !(t.DetailsSubmitted && t.ChargesEnabled) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetProductsByIDs(_ context.Context, tenantID string, ids []int64) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Product{}
	for _, id := range ids {
		if p, ok := f.state.products[id]; ok && p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) SetProductPriceRef(_ context.Context, tenantID string, productID int64, priceRef string, unitAmount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.state.products[productID]; ok && p.TenantID == tenantID {
		p.StripePriceID = &priceRef
		p.StripePriceAmount = &unitAmount
	}
	return nil
}

func (f *fakeStore) CreateTransaction(_ context.Context, txn *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(txn.TenantID, txn.SessionRef)
	if _, ok := f.state.transactions[k]; ok {
		return store.ErrDuplicateEvent
	}
	txn.ID = f.state.id()
	txn.CreatedAt = time.Now()
	c := *txn
	f.state.transactions[k] = &c
	return nil
}

func (f *fakeStore) GetTransactionBySession(_ context.Context, tenantID, sessionRef string) (*models.Transaction, error) {
	if t := f.transaction(tenantID, sessionRef); t != nil {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) FailPendingTransaction(_ context.Context, tenantID, sessionRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.state.transactions[key(tenantID, sessionRef)]
	if !ok || t.Status != models.TransactionStatusPending {
		return false, nil
	}
	t.Status = models.TransactionStatusFailed
	return true, nil
}

func (f *fakeStore) FailStalePendingTransactions(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.state.transactions {
		if t.Status == models.TransactionStatusPending && t.CreatedAt.Before(cutoff) {
			t.Status = models.TransactionStatusFailed
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetOrder(_ context.Context, tenantID string, orderID int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.state.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (f *fakeStore) GetOrderItems(_ context.Context, tenantID string, orderID int64) ([]models.OrderItem, error) {
	var out []models.OrderItem
	for _, it := range f.itemsFor(orderID) {
		if it.TenantID == tenantID {
			out = append(out, it)
		}
	}
	return out, nil
}

// RunInTx serializes transactions and commits the clone only on success
func (f *fakeStore) RunInTx(_ context.Context, fn func(tx store.Tx) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	work := f.state.clone()
	f.txAttempts++
	failOrder := f.failOnCreateOrder > 0
	if failOrder {
		f.failOnCreateOrder--
	}
	f.mu.Unlock()

	if err := fn(&fakeTx{state: work, failOrder: failOrder}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	unknown := fmt.Errorf("commit: %w: read: connection reset by peer", store.ErrCommitUnknown)
	if f.commitLost > 0 {
		f.commitLost--
		return unknown
	}
	f.state = work
	if f.commitApplied > 0 {
		f.commitApplied--
		return unknown
	}
	return nil
}

func (f *fakeStore) ProcessedEventID(_ context.Context, tenantID, eventKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.state.ledger[key(tenantID, eventKey)]
	if !ok {
		return "", store.ErrNotFound
	}
	return ev.EventID, nil
}

type fakeTx struct {
	state     *fakeState
	failOrder bool
}

func (t *fakeTx) InsertProcessedEvent(_ context.Context, ev *models.ProcessedEvent) error {
	k := key(ev.TenantID, ev.EventKey)
	if _, ok := t.state.ledger[k]; ok {
		return store.ErrDuplicateEvent
	}
	t.state.ledger[k] = *ev
	return nil
}

func (t *fakeTx) DecrementStock(_ context.Context, tenantID string, productID int64, quantity int) (bool, error) {
	p, ok := t.state.products[productID]
	if !ok || p.TenantID != tenantID || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	return true, nil
}

func (t *fakeTx) RecordAnomaly(_ context.Context, a *models.InventoryAnomaly) error {
	a.ID = t.state.id()
	t.state.anomalies = append(t.state.anomalies, *a)
	return nil
}

func (t *fakeTx) CreateOrder(_ context.Context, o *models.Order) error {
	if t.failOrder {
		return fmt.Errorf("create order: connection reset by peer")
	}
	for _, existing := range t.state.orders {
		if existing.TenantID == o.TenantID && existing.SessionRef == o.SessionRef {
			return store.ErrDuplicateEvent
		}
	}
	o.ID = t.state.id()
	c := *o
	t.state.orders[o.ID] = &c
	return nil
}

func (t *fakeTx) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	item.ID = t.state.id()
	t.state.items = append(t.state.items, *item)
	return nil
}

func (t *fakeTx) CompleteTransaction(_ context.Context, tenantID, sessionRef string) (bool, error) {
	txn, ok := t.state.transactions[key(tenantID, sessionRef)]
	if !ok || txn.Status == models.TransactionStatusCompleted {
		return false, nil
	}
	txn.Status = models.TransactionStatusCompleted
	return true, nil
}

func (t *fakeTx) UpdatePaymentAccountFlags(_ context.Context, tenantID string, flags models.PaymentAccountFlags, syncedAt time.Time) error {
	return updateFlags(t.state, tenantID, flags, syncedAt)
}

type fakeProcessor struct {
	mu sync.Mutex

	accounts    map[string]*processor.Account
	lineItems   map[string][]processor.LineItem
	retrieveErr error
	sessionErr  error
	priceErr    error
	listErr     error

	createdAccounts int
	retrieveCalls   int
	prices          []processor.PriceRequest
	sessions        []processor.SessionRequest
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		accounts:  map[string]*processor.Account{},
		lineItems: map[string][]processor.LineItem{},
	}
}

func (p *fakeProcessor) setAccount(a processor.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[a.ID] = &a
}

func (p *fakeProcessor) setLineItems(sessionID string, items ...processor.LineItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lineItems[sessionID] = items
}

func (p *fakeProcessor) CreateAccount(_ context.Context, req processor.AccountRequest) (*processor.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createdAccounts++
	a := &processor.Account{ID: fmt.Sprintf("acct_%s_%d", req.TenantID, p.createdAccounts)}
	p.accounts[a.ID] = a
	c := *a
	return &c, nil
}

func (p *fakeProcessor) CreateOnboardingLink(_ context.Context, accountID, returnURL, _ string) (string, error) {
	return "https://connect.example/setup/" + accountID + "?return=" + returnURL, nil
}

func (p *fakeProcessor) RetrieveAccount(_ context.Context, accountID string) (*processor.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retrieveCalls++
	if p.retrieveErr != nil {
		return nil, p.retrieveErr
	}
	a, ok := p.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("no such account %s", accountID)
	}
	c := *a
	return &c, nil
}

func (p *fakeProcessor) CreatePrice(_ context.Context, _ string, req processor.PriceRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.priceErr != nil {
		return "", p.priceErr
	}
	p.prices = append(p.prices, req)
	return fmt.Sprintf("price_%d", req.ProductID), nil
}

func (p *fakeProcessor) CreateCheckoutSession(_ context.Context, req processor.SessionRequest) (*processor.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	p.sessions = append(p.sessions, req)
	id := fmt.Sprintf("cs_test_%d", len(p.sessions))
	return &processor.Session{ID: id, URL: "https://checkout.example/" + id}, nil
}

func (p *fakeProcessor) ListSessionLineItems(_ context.Context, _, sessionID string) ([]processor.LineItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]processor.LineItem(nil), p.lineItems[sessionID]...), nil
}

func (p *fakeProcessor) sessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

type fakeCache struct {
	mu        sync.Mutex
	accounts  map[string][]byte
	responses map[string][]byte
	locks     map[string]string
	deletes   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		accounts:  map[string][]byte{},
		responses: map[string][]byte{},
		locks:     map[string]string{},
	}
}

func (c *fakeCache) GetAccountStatus(_ context.Context, tenantID string) (*models.PaymentAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.accounts[tenantID]
	if !ok {
		return nil, redisclient.ErrCacheMiss
	}
	var acct models.PaymentAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *fakeCache) SetAccountStatus(_ context.Context, tenantID string, acct *models.PaymentAccount, _ time.Duration) error {
	raw, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[tenantID] = raw
	return nil
}

func (c *fakeCache) DeleteAccountStatus(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.accounts, tenantID)
	c.deletes++
	return nil
}

func (c *fakeCache) GetIdempotentResponse(_ context.Context, tenantID, k string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.responses[key(tenantID, k)]
	if !ok {
		return nil, redisclient.ErrCacheMiss
	}
	return raw, nil
}

func (c *fakeCache) SetIdempotentResponse(_ context.Context, tenantID, k string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[key(tenantID, k)] = value
	return nil
}

func (c *fakeCache) AcquireLock(_ context.Context, lockKey string, _ time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[lockKey]; held {
		return "", nil
	}
	token := fmt.Sprintf("token-%d", len(c.locks)+1)
	c.locks[lockKey] = token
	return token, nil
}

func (c *fakeCache) ReleaseLock(_ context.Context, lockKey, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[lockKey] == token {
		delete(c.locks, lockKey)
	}
	return nil
}

type fakePublisher struct {
	mu             sync.Mutex
	created        []*models.CheckoutCreatedEvent
	settled        []*models.OrderSettledEvent
	oversold       []*models.OversellDetectedEvent
	accountUpdates []*models.PaymentAccountUpdatedEvent
	sessionsFailed []*models.CheckoutSessionFailedEvent
}

func (p *fakePublisher) PublishCheckoutCreated(_ context.Context, e *models.CheckoutCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *fakePublisher) PublishOrderSettled(_ context.Context, e *models.OrderSettledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = append(p.settled, e)
	return nil
}

func (p *fakePublisher) PublishOversellDetected(_ context.Context, e *models.OversellDetectedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oversold = append(p.oversold, e)
	return nil
}

func (p *fakePublisher) PublishPaymentAccountUpdated(_ context.Context, e *models.PaymentAccountUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accountUpdates = append(p.accountUpdates, e)
	return nil
}

func (p *fakePublisher) PublishCheckoutSessionFailed(_ context.Context, e *models.CheckoutSessionFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionsFailed = append(p.sessionsFailed, e)
	return nil
}

func (p *fakePublisher) oversellCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.oversold)
}

type harness struct {
	store      *fakeStore
	proc       *fakeProcessor
	cache      *fakeCache
	pub        *fakePublisher
	tracker    *AccountTracker
	checkout   *CheckoutService
	settlement *SettlementProcessor
	orders     *OrderService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: newFakeStore(),
		proc:  newFakeProcessor(),
		cache: newFakeCache(),
		pub:   &fakePublisher{},
	}
	h.tracker = NewAccountTracker(h.store, h.proc, h.cache, h.pub, TrackerConfig{
		CacheTTL:   time.Minute,
		ReturnURL:  "https://pos.example/onboarding/done",
		RefreshURL: "https://pos.example/onboarding/retry",
	})
	h.checkout = NewCheckoutService(h.store, h.proc, h.tracker, h.cache, h.pub, CheckoutConfig{
		Currency:         "usd",
		SuccessURL:       "https://pos.example/success",
		CancelURL:        "https://pos.example/cancel",
		ProcessorTimeout: time.Second,
		IdempotencyTTL:   time.Hour,
	})
	h.settlement = NewSettlementProcessor(h.store, h.proc, h.tracker, h.pub)
	h.orders = NewOrderService(h.store)
	return h
}

// addReadyTenant registers a tenant whose payment account is complete
func (h *harness) addReadyTenant(id string) *models.Tenant {
	acct := "acct_" + id
	now := time.Now()
	t := &models.Tenant{
		ID:                 id,
		Name:               "Merchant " + id,
		StripeAccountID:    &acct,
		DetailsSubmitted:   true,
		ChargesEnabled:     true,
		PayoutsEnabled:     true,
		AccountSyncedAt:    &now,
		PlatformFeePercent: decimal.RequireFromString("2.5"),
		TaxRatePercent:     decimal.RequireFromString("8"),
	}
	h.store.addTenant(t)
	h.proc.setAccount(processor.Account{ID: acct, DetailsSubmitted: true, ChargesEnabled: true, PayoutsEnabled: true})
	return t
}

func (h *harness) addProduct(tenantID string, id, price int64, stock int, synced bool) *models.Product {
	p := &models.Product{ID: id, TenantID: tenantID, Name: fmt.Sprintf("Product %d", id), Price: price, Stock: stock}
	if synced {
		ref := fmt.Sprintf("price_%d", id)
		p.StripePriceID = &ref
		p.StripePriceAmount = &price
	}
	h.store.addProduct(p)
	return p
}

func sessionEvent(t *testing.T, eventType, eventID, accountID string, session map[string]interface{}) *processor.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	require.NoError(t, err)
	return &processor.Event{ID: eventID, Type: eventType, AccountID: accountID, Data: raw}
}

func paidSession(sessionID, tenantID string) map[string]interface{} {
	return map[string]interface{}{
		"id":             sessionID,
		"payment_status": processor.PaymentStatusPaid,
		"status":         "complete",
		"amount_total":   1944,
		"metadata": map[string]string{
			models.MetaTenantID:    tenantID,
			models.MetaActorID:     "emp-7",
			models.MetaSubtotal:    "18.00",
			models.MetaDiscount:    "2.00",
			models.MetaTax:         "1.44",
			models.MetaGrandTotal:  "19.44",
			models.MetaPlatformFee: "0.49",
		},
	}
}

func productLine(id string, productID, qty, unit int64) processor.LineItem {
	return processor.LineItem{ID: id, ProductID: productID, Quantity: qty, UnitAmount: unit, AmountTotal: qty * unit}
}

func taxLine(amount int64) processor.LineItem {
	return processor.LineItem{ID: "li_tax", Kind: processor.LineKindTax, Quantity: 1, UnitAmount: amount, AmountTotal: amount}
}
