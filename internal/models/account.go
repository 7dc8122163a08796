package models

import "time"

// AccountState is the onboarding state of a tenant's payment account
type AccountState string

// Payment account states
const (
	AccountStateNeedsOnboarding AccountState = "needs_onboarding"
	AccountStateIncomplete      AccountState = "incomplete"
	AccountStateComplete        AccountState = "complete"
	AccountStateError           AccountState = "error"
)

// PaymentAccountFlags are the capability flags reported by the processor
type PaymentAccountFlags struct {
	DetailsSubmitted bool `json:"details_submitted"`
	ChargesEnabled   bool `json:"charges_enabled"`
	PayoutsEnabled   bool `json:"payouts_enabled"`
}

// PaymentAccount is a tenant's payment account as of the last successful sync
type PaymentAccount struct {
	AccountID string              `json:"account_id,omitempty"`
	Flags     PaymentAccountFlags `json:"flags"`
	State     AccountState        `json:"state"`
	SyncedAt  *time.Time          `json:"synced_at,omitempty"`
}

// NewPaymentAccount builds an account view and derives its state from the flags
func NewPaymentAccount(accountID string, flags PaymentAccountFlags, syncedAt *time.Time) *PaymentAccount {
	return &PaymentAccount{
		AccountID: accountID,
		Flags:     flags,
		State:     DeriveAccountState(accountID, flags),
		SyncedAt:  syncedAt,
	}
}

// DeriveAccountState maps processor flags onto the onboarding state machine.
// complete requires both details submitted and charges enabled.
func DeriveAccountState(accountID string, flags PaymentAccountFlags) AccountState {
	switch {
	case accountID == "":
		return AccountStateNeedsOnboarding
	case flags.DetailsSubmitted && flags.ChargesEnabled:
		return AccountStateComplete
	default:
		return AccountStateIncomplete
	}
}

// ReadyForCheckout reports whether checkout may be offered on this account
func (a *PaymentAccount) ReadyForCheckout() bool {
	return a != nil && a.State == AccountStateComplete
}
