package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const tenantColumns = `id, name, stripe_account_id, details_submitted, charges_enabled,
	payouts_enabled, account_synced_at, platform_fee_percent, tax_rate_percent, created_at`

const productColumns = `id, tenant_id, name, price, stock, stripe_price_id, stripe_price_amount, created_at, updated_at`

// GetTenant retrieves a tenant by ID
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.GetContext(ctx, &tenant,
		"SELECT "+tenantColumns+" FROM tenants WHERE id = $1", tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &tenant, nil
}

// GetTenantByAccountRef retrieves the tenant owning a processor account
func (s *Store) GetTenantByAccountRef(ctx context.Context, accountID string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.GetContext(ctx, &tenant,
		"SELECT "+tenantColumns+" FROM tenants WHERE stripe_account_id = $1", accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant for account %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by account: %w", err)
	}
	return &tenant, nil
}

// SetPaymentAccountRef stores the account reference only if none is set yet.
// It returns false when another writer already linked an account.
func (s *Store) SetPaymentAccountRef(ctx context.Context, tenantID, accountID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET stripe_account_id = $1
		 WHERE id = $2 AND stripe_account_id IS NULL`,
		accountID, tenantID)
	if err != nil {
		return false, fmt.Errorf("set payment account ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdatePaymentAccountFlags persists capability flags from a successful processor sync
func (s *Store) UpdatePaymentAccountFlags(ctx context.Context, tenantID string, flags models.PaymentAccountFlags, syncedAt time.Time) error {
	return updatePaymentAccountFlags(ctx, s.db, tenantID, flags, syncedAt)
}

func updatePaymentAccountFlags(ctx context.Context, db sqlx.ExecerContext, tenantID string, flags models.PaymentAccountFlags, syncedAt time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE tenants
		 SET details_submitted = $1, charges_enabled = $2, payouts_enabled = $3, account_synced_at = $4
		 WHERE id = $5`,
		flags.DetailsSubmitted, flags.ChargesEnabled, flags.PayoutsEnabled, syncedAt, tenantID)
	if err != nil {
		return fmt.Errorf("update payment account flags: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	return nil
}

// ListTenantsPendingOnboarding lists tenants with an account reference that
// is not yet fully enabled, least recently synced first
func (s *Store) ListTenantsPendingOnboarding(ctx context.Context, limit int) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := s.db.SelectContext(ctx, &tenants,
		`SELECT `+tenantColumns+` FROM tenants
		 WHERE stripe_account_id IS NOT NULL
		   AND NOT (details_submitted AND charges_enabled)
		 ORDER BY account_synced_at NULLS FIRST
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tenants: %w", err)
	}
	return tenants, nil
}

// GetProductsByIDs retrieves a tenant's products by IDs; IDs owned by other
// tenants are simply absent from the result
func (s *Store) GetProductsByIDs(ctx context.Context, tenantID string, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+productColumns+" FROM products WHERE tenant_id = ? AND id IN (?)",
		tenantID, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return products, nil
}

// SetProductPriceRef records the processor price created for a product and the
// unit amount it charges
func (s *Store) SetProductPriceRef(ctx context.Context, tenantID string, productID int64, priceRef string, unitAmount int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE products SET stripe_price_id = $1, stripe_price_amount = $2, updated_at = NOW()
		 WHERE tenant_id = $3 AND id = $4`,
		priceRef, unitAmount, tenantID, productID)
	if err != nil {
		return fmt.Errorf("set product price ref: %w", err)
	}
	return nil
}
