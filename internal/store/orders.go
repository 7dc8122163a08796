package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
)

// CreateTransaction creates a pending transaction for a checkout session
func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (tenant_id, session_ref, amount, gross_amount, platform_fee, status, category, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		txn.TenantID, txn.SessionRef, txn.Amount, txn.GrossAmount, txn.PlatformFee,
		txn.Status, txn.Category, txn.ActorID,
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction for session %s: %w", txn.SessionRef, ErrDuplicateEvent)
	}
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetTransactionBySession retrieves the transaction for a checkout session
func (s *Store) GetTransactionBySession(ctx context.Context, tenantID, sessionRef string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.GetContext(ctx, &txn,
		"SELECT * FROM transactions WHERE tenant_id = $1 AND session_ref = $2",
		tenantID, sessionRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction for session %s: %w", sessionRef, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FailPendingTransaction marks a pending transaction failed; completed
// transactions are never regressed
func (s *Store) FailPendingTransaction(ctx context.Context, tenantID, sessionRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = NOW()
		 WHERE tenant_id = $2 AND session_ref = $3 AND status = $4`,
		models.TransactionStatusFailed, tenantID, sessionRef, models.TransactionStatusPending)
	if err != nil {
		return false, fmt.Errorf("fail pending transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FailStalePendingTransactions fails every pending transaction created before cutoff
func (s *Store) FailStalePendingTransactions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND created_at < $3`,
		models.TransactionStatusFailed, models.TransactionStatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale transactions: %w", err)
	}
	return res.RowsAffected()
}

// GetOrder retrieves a tenant's order by ID
func (s *Store) GetOrder(ctx context.Context, tenantID string, orderID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE tenant_id = $1 AND id = $2", tenantID, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for a tenant's order
func (s *Store) GetOrderItems(ctx context.Context, tenantID string, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE tenant_id = $1 AND order_id = $2 ORDER BY id",
		tenantID, orderID)
	return items, err
}
