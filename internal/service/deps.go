package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
)

// TenantStore is the tenant and payment-account half of the datastore
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetTenantByAccountRef(ctx context.Context, accountID string) (*models.Tenant, error)
	SetPaymentAccountRef(ctx context.Context, tenantID, accountID string) (bool, error)
	UpdatePaymentAccountFlags(ctx context.Context, tenantID string, flags models.PaymentAccountFlags, syncedAt time.Time) error
	ListTenantsPendingOnboarding(ctx context.Context, limit int) ([]models.Tenant, error)
}

// CatalogStore reads tenant-scoped products
type CatalogStore interface {
	GetProductsByIDs(ctx context.Context, tenantID string, ids []int64) ([]models.Product, error)
	SetProductPriceRef(ctx context.Context, tenantID string, productID int64, priceRef string, unitAmount int64) error
}

// LedgerStore holds transactions, orders and the settlement unit of work
type LedgerStore interface {
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransactionBySession(ctx context.Context, tenantID, sessionRef string) (*models.Transaction, error)
	FailPendingTransaction(ctx context.Context, tenantID, sessionRef string) (bool, error)
	FailStalePendingTransactions(ctx context.Context, cutoff time.Time) (int64, error)
	GetOrder(ctx context.Context, tenantID string, orderID int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, tenantID string, orderID int64) ([]models.OrderItem, error)
	RunInTx(ctx context.Context, fn func(tx store.Tx) error) error
	ProcessedEventID(ctx context.Context, tenantID, eventKey string) (string, error)
}

// Store is everything the services read and write; *store.Store satisfies it
type Store interface {
	TenantStore
	CatalogStore
	LedgerStore
}

// Cache is the Redis-backed status cache, lock and replay store;
// *redisclient.Client satisfies it
type Cache interface {
	GetAccountStatus(ctx context.Context, tenantID string) (*models.PaymentAccount, error)
	SetAccountStatus(ctx context.Context, tenantID string, acct *models.PaymentAccount, ttl time.Duration) error
	DeleteAccountStatus(ctx context.Context, tenantID string) error
	GetIdempotentResponse(ctx context.Context, tenantID, key string) ([]byte, error)
	SetIdempotentResponse(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// Publisher emits domain events; *broker.EventPublisher satisfies it
type Publisher interface {
	PublishCheckoutCreated(ctx context.Context, event *models.CheckoutCreatedEvent) error
	PublishOrderSettled(ctx context.Context, event *models.OrderSettledEvent) error
	PublishOversellDetected(ctx context.Context, event *models.OversellDetectedEvent) error
	PublishPaymentAccountUpdated(ctx context.Context, event *models.PaymentAccountUpdatedEvent) error
	PublishCheckoutSessionFailed(ctx context.Context, event *models.CheckoutSessionFailedEvent) error
}
