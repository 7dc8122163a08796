// Package processor defines the payment-processor collaborator and its Stripe Connect implementation.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when an inbound event fails verification
	ErrInvalidSignature = errors.New("processor: invalid event signature")
	// ErrUnavailable wraps transport and API failures that are safe to retry
	ErrUnavailable = errors.New("processor: unavailable")
)

// Processor event types the service reacts to
const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
	EventCheckoutExpired            = "checkout.session.expired"
	EventAccountUpdated             = "account.updated"
)

// Checkout session payment statuses
const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Product metadata keys set on processor-side catalog objects
const (
	MetaProductID = "product_id"
	MetaLineKind  = "line_kind"
	LineKindTax   = "tax"
)

// Processor is every call the checkout-and-settlement pipeline makes to the
// payment processor. All account-scoped calls take the tenant's sub-account id.
type Processor interface {
	CreateAccount(ctx context.Context, req AccountRequest) (*Account, error)
	CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error)
	RetrieveAccount(ctx context.Context, accountID string) (*Account, error)
	CreatePrice(ctx context.Context, accountID string, req PriceRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
	ListSessionLineItems(ctx context.Context, accountID, sessionID string) ([]LineItem, error)
}

// EventParser verifies and decodes a raw signed event payload
type EventParser interface {
	ParseEvent(payload []byte, signature string) (*Event, error)
}

// AccountRequest describes a new connected account
type AccountRequest struct {
	TenantID string
	Name     string
}

// Account is the processor's view of a connected account
type Account struct {
	ID               string
	DetailsSubmitted bool
	ChargesEnabled   bool
	PayoutsEnabled   bool
}

// PriceRequest describes a catalog price to create on the connected account
type PriceRequest struct {
	ProductID  int64
	Name       string
	UnitAmount int64
	Currency   string
}

// SessionLine is one purchasable line of a hosted session
type SessionLine struct {
	PriceRef string
	Quantity int64
}

// SessionRequest is everything needed to open a hosted checkout session
type SessionRequest struct {
	AccountID      string
	Currency       string
	Lines          []SessionLine
	TaxAmount      int64
	TaxLabel       string
	DiscountAmount int64
	ApplicationFee int64
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Session is a created hosted checkout session
type Session struct {
	ID        string
	URL       string
	ExpiresAt int64
}

// LineItem is a purchased line as reported by the processor
type LineItem struct {
	ID          string
	ProductID   int64
	Kind        string
	Description string
	Quantity    int64
	UnitAmount  int64
	AmountTotal int64
}

// IsTax reports whether this is the synthetic tax line
func (l LineItem) IsTax() bool {
	return l.Kind == LineKindTax
}

// Event is a verified inbound processor event
type Event struct {
	ID        string
	Type      string
	AccountID string
	Data      json.RawMessage
}

// CheckoutSession is the subset of a checkout.session object settlement reads
type CheckoutSession struct {
	ID             string            `json:"id"`
	PaymentStatus  string            `json:"payment_status"`
	Status         string            `json:"status"`
	AmountSubtotal int64             `json:"amount_subtotal"`
	AmountTotal    int64             `json:"amount_total"`
	Metadata       map[string]string `json:"metadata"`
	TotalDetails   struct {
		AmountDiscount int64 `json:"amount_discount"`
		AmountTax      int64 `json:"amount_tax"`
	} `json:"total_details"`
}

// Paid reports whether funds were captured for the session
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// DecodeCheckoutSession decodes the event data object as a checkout session
func (e *Event) DecodeCheckoutSession() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return nil, fmt.Errorf("decode checkout.session: %w", err)
	}
	return &s, nil
}

// DecodeAccount decodes the event data object as a connected account
func (e *Event) DecodeAccount() (*Account, error) {
	var raw struct {
		ID               string `json:"id"`
		DetailsSubmitted bool   `json:"details_submitted"`
		ChargesEnabled   bool   `json:"charges_enabled"`
		PayoutsEnabled   bool   `json:"payouts_enabled"`
	}
	if err := json.Unmarshal(e.Data, &raw); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &Account{
		ID:               raw.ID,
		DetailsSubmitted: raw.DetailsSubmitted,
		ChargesEnabled:   raw.ChargesEnabled,
		PayoutsEnabled:   raw.PayoutsEnabled,
	}, nil
}
