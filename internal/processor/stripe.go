package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"checkout-service/internal/util"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	"github.com/stripe/stripe-go/v82/accountlink"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/coupon"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

// StripeProcessor implements Processor and EventParser on Stripe Connect
// with direct charges on the tenant's Express account.
type StripeProcessor struct {
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeProcessor configures the Stripe SDK with the platform secret key
func NewStripeProcessor(apiKey, webhookSecret string) *StripeProcessor {
	stripe.Key = apiKey
	return &StripeProcessor{
		webhookSecret: webhookSecret,
		logger:        util.GetLogger(),
	}
}

// CreateAccount creates a new Express connected account for a tenant
func (p *StripeProcessor) CreateAccount(ctx context.Context, req AccountRequest) (*Account, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		BusinessProfile: &stripe.AccountBusinessProfileParams{
			Name: stripe.String(req.Name),
		},
	}
	params.Context = ctx
	params.AddMetadata("tenant_id", req.TenantID)

	acct, err := account.New(params)
	if err != nil {
		return nil, wrapStripeErr("create account", err)
	}
	return toAccount(acct), nil
}

// CreateOnboardingLink creates a hosted onboarding link for an account
func (p *StripeProcessor) CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		ReturnURL:  stripe.String(returnURL),
		RefreshURL: stripe.String(refreshURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := accountlink.New(params)
	if err != nil {
		return "", wrapStripeErr("create account link", err)
	}
	return link.URL, nil
}

// RetrieveAccount pulls the latest capability flags for an account
func (p *StripeProcessor) RetrieveAccount(ctx context.Context, accountID string) (*Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := account.GetByID(accountID, params)
	if err != nil {
		return nil, wrapStripeErr("retrieve account", err)
	}
	return toAccount(acct), nil
}

// CreatePrice creates a price (and its product) on the connected account.
// The catalog product id is stored in the product metadata so settlement
// can map line items back.
func (p *StripeProcessor) CreatePrice(ctx context.Context, accountID string, req PriceRequest) (string, error) {
	params := &stripe.PriceParams{
		Currency:   stripe.String(req.Currency),
		UnitAmount: stripe.Int64(req.UnitAmount),
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(req.Name),
			Metadata: map[string]string{
				MetaProductID: strconv.FormatInt(req.ProductID, 10),
			},
		},
	}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	pr, err := price.New(params)
	if err != nil {
		return "", wrapStripeErr("create price", err)
	}
	return pr.ID, nil
}

// CreateCheckoutSession opens a hosted payment session on the connected
// account. A discount is applied as a one-off amount-off coupon so the
// processor total matches the computed grand total exactly.
func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines)+1)
	for _, l := range req.Lines {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(l.PriceRef),
			Quantity: stripe.Int64(l.Quantity),
		})
	}

	if req.TaxAmount > 0 {
		label := req.TaxLabel
		if label == "" {
			label = "Tax"
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.TaxAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(label),
					Metadata: map[string]string{MetaLineKind: LineKindTax},
				},
			},
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  lineItems,
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(req.ApplicationFee),
			Metadata:             req.Metadata,
		},
	}

	if req.DiscountAmount > 0 {
		couponID, err := p.createDiscountCoupon(ctx, req)
		if err != nil {
			return nil, err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(couponID)},
		}
	}

	params.Context = ctx
	params.SetStripeAccount(req.AccountID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := session.New(params)
	if err != nil {
		return nil, wrapStripeErr("create checkout session", err)
	}

	p.logger.Debug("Checkout session created",
		zap.String("session_id", s.ID),
		zap.String("account_id", req.AccountID),
		zap.Int("lines", len(lineItems)))

	return &Session{
		ID:        s.ID,
		URL:       s.URL,
		ExpiresAt: s.ExpiresAt,
	}, nil
}

func (p *StripeProcessor) createDiscountCoupon(ctx context.Context, req SessionRequest) (string, error) {
	params := &stripe.CouponParams{
		AmountOff:      stripe.Int64(req.DiscountAmount),
		Currency:       stripe.String(req.Currency),
		Duration:       stripe.String(string(stripe.CouponDurationOnce)),
		MaxRedemptions: stripe.Int64(1),
	}
	params.Context = ctx
	params.SetStripeAccount(req.AccountID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey + "-coupon")
	}

	c, err := coupon.New(params)
	if err != nil {
		return "", wrapStripeErr("create discount coupon", err)
	}
	return c.ID, nil
}

// ListSessionLineItems lists the purchased lines of a session with their
// product metadata expanded
func (p *StripeProcessor) ListSessionLineItems(ctx context.Context, accountID, sessionID string) ([]LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx
	params.SetStripeAccount(accountID)
	params.AddExpand("data.price.product")

	var items []LineItem
	it := session.ListLineItems(params)
	for it.Next() {
		items = append(items, toLineItem(it.LineItem()))
	}
	if err := it.Err(); err != nil {
		return nil, wrapStripeErr("list session line items", err)
	}
	return items, nil
}

// ParseEvent verifies the Stripe-Signature header against the raw payload
func (p *StripeProcessor) ParseEvent(payload []byte, signature string) (*Event, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	evt := &Event{
		ID:        event.ID,
		Type:      string(event.Type),
		AccountID: event.Account,
	}
	if event.Data != nil {
		evt.Data = event.Data.Raw
	}
	return evt, nil
}

func toAccount(a *stripe.Account) *Account {
	return &Account{
		ID:               a.ID,
		DetailsSubmitted: a.DetailsSubmitted,
		ChargesEnabled:   a.ChargesEnabled,
		PayoutsEnabled:   a.PayoutsEnabled,
	}
}

func toLineItem(li *stripe.LineItem) LineItem {
	item := LineItem{
		ID:          li.ID,
		Description: li.Description,
		Quantity:    li.Quantity,
		AmountTotal: li.AmountTotal,
	}
	if li.Price == nil {
		return item
	}
	item.UnitAmount = li.Price.UnitAmount
	if li.Price.Product == nil {
		return item
	}
	meta := li.Price.Product.Metadata
	item.Kind = meta[MetaLineKind]
	if id, err := strconv.ParseInt(meta[MetaProductID], 10, 64); err == nil {
		item.ProductID = id
	}
	return item
}

// wrapStripeErr marks rate limits, 5xx and transport failures as retryable
func wrapStripeErr(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
