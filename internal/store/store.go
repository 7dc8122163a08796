package store

import (
	"context"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound is returned when a tenant-scoped row does not exist
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateEvent is returned when the idempotency ledger already holds the event key
	ErrDuplicateEvent = errors.New("store: event already processed")
	// ErrCommitUnknown is returned when the connection dropped during commit,
	// so the transaction may or may not have been applied
	ErrCommitUnknown = errors.New("store: commit outcome unknown")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pgerrcode.UniqueViolation
}

// isRetryable reports errors where replaying the whole transaction can succeed
func isRetryable(err error) bool {
	if errors.Is(err, ErrCommitUnknown) {
		return false
	}
	switch pqCode(err) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return true
	}
	return isConnectionError(err)
}

// commitError classifies a failed commit. A server error means the
// transaction was rolled back; a dropped connection leaves it unknown.
func commitError(err error) error {
	if pqCode(err) == "" && (errors.Is(err, driver.ErrBadConn) || isConnectionError(err)) {
		return fmt.Errorf("commit: %w: %v", ErrCommitUnknown, err)
	}
	return fmt.Errorf("commit: %w", err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
