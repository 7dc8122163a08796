package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/processor"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// TrackerConfig holds payment-account tracker settings
type TrackerConfig struct {
	CacheTTL   time.Duration
	LockTTL    time.Duration
	ReturnURL  string
	RefreshURL string
}

// AccountStatus is the result of a refresh. Account is always the last
// successfully synced view; State is error when the refresh itself failed.
type AccountStatus struct {
	TenantID string                 `json:"tenant_id"`
	State    models.AccountState    `json:"state"`
	Account  *models.PaymentAccount `json:"account,omitempty"`
	Stale    bool                   `json:"stale"`
}

// AccountTracker maintains each tenant's onboarding and capability status
type AccountTracker struct {
	store     TenantStore
	processor processor.Processor
	cache     Cache
	publisher Publisher
	cfg       TrackerConfig
	now       func() time.Time
	logger    *zap.Logger
}

// NewAccountTracker creates a new payment-account tracker
func NewAccountTracker(
	store TenantStore,
	proc processor.Processor,
	cache Cache,
	publisher Publisher,
	cfg TrackerConfig,
) *AccountTracker {
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &AccountTracker{
		store:     store,
		processor: proc,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

func (t *AccountTracker) loadTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	tenant, err := t.store.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	return tenant, nil
}

// EnsureAccount returns the tenant's payment account, creating it with the
// processor the first time. Concurrent callers race on a Redis lock and the
// conditional reference update, so at most one reference is ever stored.
func (t *AccountTracker) EnsureAccount(ctx context.Context, tenantID string) (*models.PaymentAccount, error) {
	ctx, span := util.StartTenantSpan(ctx, "AccountTracker.EnsureAccount", tenantID)
	defer span.End()

	tenant, err := t.loadTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.AccountRef() != "" {
		return tenant.PaymentAccount(), nil
	}

	lockKey := "payment_account:create:" + tenantID
	token, err := t.cache.AcquireLock(ctx, lockKey, t.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account creation: %w", err)
	}
	if token == "" {
		return nil, ErrAccountBusy
	}
	defer func() {
		if err := t.cache.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			t.logger.Warn("Failed to release account lock", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}()

	// re-read under the lock; a previous holder may have finished
	tenant, err = t.loadTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.AccountRef() != "" {
		return tenant.PaymentAccount(), nil
	}

	acct, err := t.processor.CreateAccount(ctx, processor.AccountRequest{TenantID: tenantID, Name: tenant.Name})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create payment account: %w", err)
	}

	linked, err := t.store.SetPaymentAccountRef(ctx, tenantID, acct.ID)
	if err != nil {
		return nil, err
	}
	if !linked {
		t.logger.Warn("Payment account already linked, discarding new account",
			zap.String("tenant_id", tenantID),
			zap.String("account_id", acct.ID))
		tenant, err = t.loadTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return tenant.PaymentAccount(), nil
	}

	t.logger.Info("Payment account created",
		zap.String("tenant_id", tenantID),
		zap.String("account_id", acct.ID))

	return t.persistSync(ctx, tenantID, acct, models.AccountStateNeedsOnboarding)
}

// CreateOnboardingLink ensures an account exists and returns a hosted onboarding URL
func (t *AccountTracker) CreateOnboardingLink(ctx context.Context, tenantID string) (string, *models.PaymentAccount, error) {
	acct, err := t.EnsureAccount(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}

	url, err := t.processor.CreateOnboardingLink(ctx, acct.AccountID, t.cfg.ReturnURL, t.cfg.RefreshURL)
	if err != nil {
		return "", acct, fmt.Errorf("failed to create onboarding link: %w", err)
	}
	return url, acct, nil
}

// RefreshStatus pulls the latest flags from the processor. On failure the
// persisted flags are left untouched and the last-known-good account is
// returned alongside the error with State error and Stale set.
func (t *AccountTracker) RefreshStatus(ctx context.Context, tenantID string) (*AccountStatus, error) {
	ctx, span := util.StartTenantSpan(ctx, "AccountTracker.RefreshStatus", tenantID)
	defer span.End()

	tenant, err := t.loadTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	lastKnown := tenant.PaymentAccount()
	if lastKnown.AccountID == "" {
		return &AccountStatus{TenantID: tenantID, State: lastKnown.State, Account: lastKnown}, nil
	}

	acct, err := t.processor.RetrieveAccount(ctx, lastKnown.AccountID)
	if err != nil {
		util.AccountRefreshesTotal.WithLabelValues("error").Inc()
		util.RecordError(span, err)
		t.logger.Warn("Payment account refresh failed, serving last known status",
			zap.String("tenant_id", tenantID),
			zap.String("last_state", string(lastKnown.State)),
			zap.Error(err))
		return &AccountStatus{
			TenantID: tenantID,
			State:    models.AccountStateError,
			Account:  lastKnown,
			Stale:    true,
		}, fmt.Errorf("failed to refresh payment account: %w", err)
	}

	updated, err := t.persistSync(ctx, tenantID, acct, lastKnown.State)
	if err != nil {
		return &AccountStatus{
			TenantID: tenantID,
			State:    models.AccountStateError,
			Account:  lastKnown,
			Stale:    true,
		}, err
	}

	util.AccountRefreshesTotal.WithLabelValues(string(updated.State)).Inc()
	return &AccountStatus{TenantID: tenantID, State: updated.State, Account: updated}, nil
}

// persistSync stores a successful processor response, refreshes the cache and
// announces a state change
func (t *AccountTracker) persistSync(ctx context.Context, tenantID string, acct *processor.Account, previous models.AccountState) (*models.PaymentAccount, error) {
	now := t.now().UTC()
	flags := flagsOf(acct)

	if err := t.store.UpdatePaymentAccountFlags(ctx, tenantID, flags, now); err != nil {
		return nil, fmt.Errorf("failed to persist payment account flags: %w", err)
	}

	updated := models.NewPaymentAccount(acct.ID, flags, &now)
	if err := t.cache.SetAccountStatus(ctx, tenantID, updated, t.cfg.CacheTTL); err != nil {
		t.logger.Warn("Failed to cache payment account", zap.String("tenant_id", tenantID), zap.Error(err))
	}

	if updated.State != previous {
		t.announce(ctx, tenantID, updated)
	}
	return updated, nil
}

// AccountSynced is called after an account-update event has been committed
func (t *AccountTracker) AccountSynced(ctx context.Context, tenantID string, acct *models.PaymentAccount) {
	if err := t.cache.DeleteAccountStatus(ctx, tenantID); err != nil {
		t.logger.Warn("Failed to invalidate payment account cache", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	t.announce(ctx, tenantID, acct)
}

func (t *AccountTracker) announce(ctx context.Context, tenantID string, acct *models.PaymentAccount) {
	event := &models.PaymentAccountUpdatedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypePaymentAccountUpdated, tenantID),
		AccountID: acct.AccountID,
		Flags:     acct.Flags,
		State:     acct.State,
	}
	if err := t.publisher.PublishPaymentAccountUpdated(ctx, event); err != nil {
		t.logger.Error("Failed to publish PaymentAccountUpdated event", zap.Error(err))
	}
}

// IsReadyForCheckout is the gate consulted before a session is created. A
// cached or persisted complete account passes without a processor call; an
// incomplete one is refreshed once in case onboarding just finished.
func (t *AccountTracker) IsReadyForCheckout(ctx context.Context, tenantID string) (bool, error) {
	ctx, span := util.StartTenantSpan(ctx, "AccountTracker.IsReadyForCheckout", tenantID)
	defer span.End()

	cached, err := t.cache.GetAccountStatus(ctx, tenantID)
	switch {
	case err == nil && cached.ReadyForCheckout():
		return true, nil
	case err != nil && !errors.Is(err, redisclient.ErrCacheMiss):
		t.logger.Warn("Payment account cache unavailable", zap.String("tenant_id", tenantID), zap.Error(err))
	}

	tenant, err := t.loadTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}

	acct := tenant.PaymentAccount()
	switch acct.State {
	case models.AccountStateComplete:
		if err := t.cache.SetAccountStatus(ctx, tenantID, acct, t.cfg.CacheTTL); err != nil {
			t.logger.Warn("Failed to cache payment account", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return true, nil
	case models.AccountStateNeedsOnboarding:
		return false, nil
	}

	status, err := t.RefreshStatus(ctx, tenantID)
	if err != nil && status != nil && status.Stale {
		// last known state is already short of complete
		t.logger.Warn("Refusing checkout on last known account state",
			zap.String("tenant_id", tenantID),
			zap.String("last_state", string(acct.State)),
			zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status.Account.ReadyForCheckout(), nil
}

// RefreshPending refreshes tenants whose onboarding has not completed. It
// keeps going past individual failures and returns how many refreshed.
func (t *AccountTracker) RefreshPending(ctx context.Context, limit int) (int, error) {
	tenants, err := t.store.ListTenantsPendingOnboarding(ctx, limit)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := t.RefreshStatus(ctx, tenant.ID); err != nil {
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func flagsOf(acct *processor.Account) models.PaymentAccountFlags {
	return models.PaymentAccountFlags{
		DetailsSubmitted: acct.DetailsSubmitted,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
	}
}
