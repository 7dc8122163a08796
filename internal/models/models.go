package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tenant represents a merchant account; every other row is partitioned by its ID
type Tenant struct {
	ID                 string          `db:"id" json:"id"`
	Name               string          `db:"name" json:"name"`
	StripeAccountID    *string         `db:"stripe_account_id" json:"stripe_account_id,omitempty"`
	DetailsSubmitted   bool            `db:"details_submitted" json:"details_submitted"`
	ChargesEnabled     bool            `db:"charges_enabled" json:"charges_enabled"`
	PayoutsEnabled     bool            `db:"payouts_enabled" json:"payouts_enabled"`
	AccountSyncedAt    *time.Time      `db:"account_synced_at" json:"account_synced_at,omitempty"`
	PlatformFeePercent decimal.Decimal `db:"platform_fee_percent" json:"platform_fee_percent"`
	TaxRatePercent     decimal.Decimal `db:"tax_rate_percent" json:"tax_rate_percent"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// AccountRef returns the processor account reference or "" when none exists yet
func (t *Tenant) AccountRef() string {
	if t.StripeAccountID == nil {
		return ""
	}
	return *t.StripeAccountID
}

// PaymentAccount returns the capability flags persisted on the tenant row
func (t *Tenant) PaymentAccount() *PaymentAccount {
	return NewPaymentAccount(t.AccountRef(), PaymentAccountFlags{
		DetailsSubmitted: t.DetailsSubmitted,
		ChargesEnabled:   t.ChargesEnabled,
		PayoutsEnabled:   t.PayoutsEnabled,
	}, t.AccountSyncedAt)
}

// Product represents a sellable catalog item owned by a tenant
type Product struct {
	ID            int64   `db:"id" json:"id"`
	TenantID      string  `db:"tenant_id" json:"tenant_id"`
	Name          string  `db:"name" json:"name"`
	Price         int64   `db:"price" json:"price"`
	Stock         int     `db:"stock" json:"stock"`
	StripePriceID *string `db:"stripe_price_id" json:"stripe_price_id,omitempty"`
	// StripePriceAmount is the unit amount StripePriceID was created with
	StripePriceAmount *int64    `db:"stripe_price_amount" json:"-"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// PriceRef returns the processor-side price reference or "" when not yet synced
func (p *Product) PriceRef() string {
	if p.StripePriceID == nil {
		return ""
	}
	return *p.StripePriceID
}

// PriceCurrent reports whether the price ref charges the current catalog price.
// Refs recorded without an amount predate amount tracking and are re-synced.
func (p *Product) PriceCurrent() bool {
	return p.PriceRef() != "" && p.StripePriceAmount != nil && *p.StripePriceAmount == p.Price
}

// Transaction is the merchant-visible record of a checkout
type Transaction struct {
	ID          int64     `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	SessionRef  string    `db:"session_ref" json:"session_ref"`
	Amount      int64     `db:"amount" json:"amount"`
	GrossAmount int64     `db:"gross_amount" json:"gross_amount"`
	PlatformFee int64     `db:"platform_fee" json:"platform_fee"`
	Status      string    `db:"status" json:"status"`
	Category    string    `db:"category" json:"category"`
	ActorID     string    `db:"actor_id" json:"actor_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Order is materialized once per settled checkout session; totals never change afterwards
type Order struct {
	ID          int64     `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	SessionRef  string    `db:"session_ref" json:"session_ref"`
	ActorID     string    `db:"actor_id" json:"actor_id"`
	Subtotal    int64     `db:"subtotal" json:"subtotal"`
	Discount    int64     `db:"discount" json:"discount"`
	Tax         int64     `db:"tax" json:"tax"`
	Total       int64     `db:"total" json:"total"`
	PlatformFee int64     `db:"platform_fee" json:"platform_fee"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// OrderItem is a line of an order with its price snapshotted at sale time
type OrderItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   int64  `db:"order_id" json:"order_id"`
	TenantID  string `db:"tenant_id" json:"tenant_id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
	LineTotal int64  `db:"line_total" json:"line_total"`
}

// InventoryAnomaly records a settlement line that could not be decremented
type InventoryAnomaly struct {
	ID         int64     `db:"id" json:"id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	ProductID  int64     `db:"product_id" json:"product_id"`
	SessionRef string    `db:"session_ref" json:"session_ref"`
	Requested  int       `db:"requested" json:"requested"`
	Kind       string    `db:"kind" json:"kind"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Transaction categories
const (
	TransactionCategorySale = "sale"
)

// Order statuses
const (
	OrderStatusCompleted = "completed"
)

// Anomaly kinds
const (
	AnomalyKindOversell = "oversell"
)

// ProcessedEvent for idempotency; a row proves the side effects for
// (TenantID, EventKey) were applied
type ProcessedEvent struct {
	TenantID    string    `db:"tenant_id"`
	EventKey    string    `db:"event_key"`
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
