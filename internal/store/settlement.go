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

// Tx is the unit of work used by settlement. Every write made through it is
// committed together or not at all, ledger row included.
type Tx interface {
	InsertProcessedEvent(ctx context.Context, ev *models.ProcessedEvent) error
	DecrementStock(ctx context.Context, tenantID string, productID int64, quantity int) (bool, error)
	RecordAnomaly(ctx context.Context, anomaly *models.InventoryAnomaly) error
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	CompleteTransaction(ctx context.Context, tenantID, sessionRef string) (bool, error)
	UpdatePaymentAccountFlags(ctx context.Context, tenantID string, flags models.PaymentAccountFlags, syncedAt time.Time) error
}

var txRetryDelays = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond}

// RunInTx runs fn inside one database transaction. fn is replayed from the
// start on deadlock or serialization failure, so it must not keep state
// between attempts.
func (s *Store) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for i := 0; i <= len(txRetryDelays); i++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) || i == len(txRetryDelays) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txRetryDelays[i]):
		}
	}
	return err
}

func (s *Store) runOnce(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return commitError(err)
	}
	return nil
}

// ProcessedEventID returns the id of the event that claimed the ledger key
func (s *Store) ProcessedEventID(ctx context.Context, tenantID, eventKey string) (string, error) {
	var eventID string
	err := s.db.GetContext(ctx, &eventID,
		`SELECT event_id FROM processed_events WHERE tenant_id = $1 AND event_key = $2`,
		tenantID, eventKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get processed event: %w", err)
	}
	return eventID, nil
}

type sqlTx struct {
	tx *sqlx.Tx
}

// InsertProcessedEvent claims the event key. A concurrent claimant blocks on
// the primary key until the first commits, then sees ErrDuplicateEvent.
func (t *sqlTx) InsertProcessedEvent(ctx context.Context, ev *models.ProcessedEvent) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO processed_events (tenant_id, event_key, event_id, event_type)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, event_key) DO NOTHING`,
		ev.TenantID, ev.EventKey, ev.EventID, ev.EventType)
	if isUniqueViolation(err) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("insert processed event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// DecrementStock decrements only when enough stock remains and reports
// whether it did
func (t *sqlTx) DecrementStock(ctx context.Context, tenantID string, productID int64, quantity int) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1, updated_at = NOW()
		 WHERE tenant_id = $2 AND id = $3 AND stock >= $1`,
		quantity, tenantID, productID)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *sqlTx) RecordAnomaly(ctx context.Context, a *models.InventoryAnomaly) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO inventory_anomalies (tenant_id, product_id, session_ref, requested, kind)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		a.TenantID, a.ProductID, a.SessionRef, a.Requested, a.Kind,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("record anomaly: %w", err)
	}
	return nil
}

func (t *sqlTx) CreateOrder(ctx context.Context, o *models.Order) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO orders (tenant_id, session_ref, actor_id, subtotal, discount, tax, total, platform_fee, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		o.TenantID, o.SessionRef, o.ActorID, o.Subtotal, o.Discount, o.Tax, o.Total, o.PlatformFee, o.Status,
	).Scan(&o.ID, &o.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("order for session %s: %w", o.SessionRef, ErrDuplicateEvent)
	}
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (t *sqlTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO order_items (order_id, tenant_id, product_id, quantity, unit_price, line_total)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		item.OrderID, item.TenantID, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("create order item: %w", err)
	}
	return nil
}

// CompleteTransaction settles a pending transaction. A transaction failed by
// the reaper is also completed since the funds were captured. It reports
// false when no open transaction exists.
func (t *sqlTx) CompleteTransaction(ctx context.Context, tenantID, sessionRef string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = NOW()
		 WHERE tenant_id = $2 AND session_ref = $3 AND status <> $1`,
		models.TransactionStatusCompleted, tenantID, sessionRef)
	if err != nil {
		return false, fmt.Errorf("complete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *sqlTx) UpdatePaymentAccountFlags(ctx context.Context, tenantID string, flags models.PaymentAccountFlags, syncedAt time.Time) error {
	return updatePaymentAccountFlags(ctx, t.tx, tenantID, flags, syncedAt)
}

// IsDuplicate reports whether err means the event was already applied
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEvent)
}
