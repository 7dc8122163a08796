package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeCheckoutCreated       = "CHECKOUT_CREATED"
	EventTypeOrderSettled          = "ORDER_SETTLED"
	EventTypeOversellDetected      = "OVERSELL_DETECTED"
	EventTypePaymentAccountUpdated = "PAYMENT_ACCOUNT_UPDATED"
	EventTypeCheckoutSessionFailed = "CHECKOUT_SESSION_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType, tenantID string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
	}
}

// CheckoutCreatedEvent published when a hosted session is opened
type CheckoutCreatedEvent struct {
	BaseEvent
	TransactionID int64  `json:"transaction_id"`
	SessionRef    string `json:"session_ref"`
	GrandTotal    int64  `json:"grand_total"`
	PlatformFee   int64  `json:"platform_fee"`
}

// OrderSettledEvent published after a settlement commits
type OrderSettledEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	SessionRef string          `json:"session_ref"`
	Total      int64           `json:"total"`
	Items      []OrderItemData `json:"items"`
}

// OversellDetectedEvent published for each line whose stock decrement failed
type OversellDetectedEvent struct {
	BaseEvent
	ProductID  int64  `json:"product_id"`
	SessionRef string `json:"session_ref"`
	Requested  int    `json:"requested"`
}

// PaymentAccountUpdatedEvent published when capability flags change
type PaymentAccountUpdatedEvent struct {
	BaseEvent
	AccountID string              `json:"account_id"`
	Flags     PaymentAccountFlags `json:"flags"`
	State     AccountState        `json:"state"`
}

// CheckoutSessionFailedEvent published when a pending transaction is failed
type CheckoutSessionFailedEvent struct {
	BaseEvent
	SessionRef string `json:"session_ref"`
	Reason     string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
