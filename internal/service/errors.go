package service

import "errors"

var (
	// ErrNeedsOnboarding means the tenant's payment account is not complete
	ErrNeedsOnboarding = errors.New("payment account needs onboarding")
	// ErrInvalidCart covers empty carts, bad quantities and out-of-range discounts
	ErrInvalidCart = errors.New("invalid cart")
	// ErrProductNotFound means a cart product does not belong to the tenant
	ErrProductNotFound = errors.New("product not found")
	// ErrPriceMappingMissing means a product has no processor price after a sync attempt
	ErrPriceMappingMissing = errors.New("product price mapping missing")
	// ErrCheckoutInProgress means a request with the same idempotency key is running
	ErrCheckoutInProgress = errors.New("checkout in progress")
	// ErrAccountBusy means another request is creating the tenant's payment account
	ErrAccountBusy = errors.New("payment account creation in progress")
	// ErrMalformedEvent marks a verified event that can never be applied
	ErrMalformedEvent = errors.New("malformed settlement event")
	// ErrTenantNotFound means the tenant does not exist
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrOrderNotFound means the order does not exist for the tenant
	ErrOrderNotFound = errors.New("order not found")
)
