package processor

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testWebhookSecret,
	})
	return signed.Header, signed.Payload
}

func TestParseEvent_CheckoutCompleted(t *testing.T) {
	p := NewStripeProcessor("sk_test_dummy", testWebhookSecret)

	payload := `{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"account": "acct_T1",
		"data": {"object": {
			"id": "cs_1",
			"payment_status": "paid",
			"status": "complete",
			"amount_total": 1944,
			"metadata": {"tenant_id": "T1", "actor_id": "emp-7"},
			"total_details": {"amount_discount": 200, "amount_tax": 144}
		}}
	}`
	header, body := signedPayload(t, payload)

	evt, err := p.ParseEvent(body, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, EventCheckoutCompleted, evt.Type)
	assert.Equal(t, "acct_T1", evt.AccountID)

	sess, err := evt.DecodeCheckoutSession()
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)
	assert.True(t, sess.Paid())
	assert.Equal(t, int64(1944), sess.AmountTotal)
	assert.Equal(t, int64(144), sess.TotalDetails.AmountTax)
	assert.Equal(t, "T1", sess.Metadata["tenant_id"])
}

func TestParseEvent_AccountUpdated(t *testing.T) {
	p := NewStripeProcessor("sk_test_dummy", testWebhookSecret)

	payload := `{
		"id": "evt_2",
		"object": "event",
		"type": "account.updated",
		"account": "acct_T1",
		"data": {"object": {"id": "acct_T1", "details_submitted": true, "charges_enabled": true, "payouts_enabled": false}}
	}`
	header, body := signedPayload(t, payload)

	evt, err := p.ParseEvent(body, header)
	require.NoError(t, err)

	acct, err := evt.DecodeAccount()
	require.NoError(t, err)
	assert.Equal(t, &Account{ID: "acct_T1", DetailsSubmitted: true, ChargesEnabled: true}, acct)
}

func TestParseEvent_RejectsBadSignature(t *testing.T) {
	p := NewStripeProcessor("sk_test_dummy", testWebhookSecret)

	header, body := signedPayload(t, `{"id":"evt_3","object":"event","type":"checkout.session.completed"}`)

	_, err := p.ParseEvent(body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = p.ParseEvent(body, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = ' '
	_, err = p.ParseEvent(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSessionPaid(t *testing.T) {
	assert.True(t, (&CheckoutSession{PaymentStatus: PaymentStatusPaid}).Paid())
	assert.True(t, (&CheckoutSession{PaymentStatus: PaymentStatusNoPaymentRequired}).Paid())
	assert.False(t, (&CheckoutSession{PaymentStatus: PaymentStatusUnpaid}).Paid())
}

func TestToLineItem(t *testing.T) {
	item := toLineItem(&stripe.LineItem{
		ID:          "li_1",
		Quantity:    2,
		AmountTotal: 1800,
		Price: &stripe.Price{
			UnitAmount: 1000,
			Product:    &stripe.Product{Metadata: map[string]string{MetaProductID: "42"}},
		},
	})
	assert.Equal(t, int64(42), item.ProductID)
	assert.Equal(t, int64(1000), item.UnitAmount)
	assert.False(t, item.IsTax())

	tax := toLineItem(&stripe.LineItem{
		ID:       "li_2",
		Quantity: 1,
		Price: &stripe.Price{
			Product: &stripe.Product{Metadata: map[string]string{MetaLineKind: LineKindTax}},
		},
	})
	assert.True(t, tax.IsTax())
	assert.Zero(t, tax.ProductID)
}

func TestWrapStripeErr(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "rate limited", err: &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, retryable: true},
		{name: "server error", err: &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, retryable: true},
		{name: "bad request", err: &stripe.Error{HTTPStatusCode: http.StatusBadRequest}, retryable: false},
		{name: "transport", err: errors.New("connection reset"), retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapStripeErr("op", fmt.Errorf("call: %w", tt.err))
			assert.Equal(t, tt.retryable, errors.Is(err, ErrUnavailable))
		})
	}
}
