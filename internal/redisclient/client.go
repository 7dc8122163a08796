package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// ErrCacheMiss is returned when a key is absent or expired
var ErrCacheMiss = errors.New("redis: cache miss")

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func accountStatusKey(tenantID string) string {
	return fmt.Sprintf("payment_account:%s", tenantID)
}

// GetAccountStatus returns the cached payment account of a tenant
func (c *Client) GetAccountStatus(ctx context.Context, tenantID string) (*models.PaymentAccount, error) {
	raw, err := c.rdb.Get(ctx, accountStatusKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get account status: %w", err)
	}

	var acct models.PaymentAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, fmt.Errorf("decode account status: %w", err)
	}
	return &acct, nil
}

// SetAccountStatus caches a successfully synced payment account
func (c *Client) SetAccountStatus(ctx context.Context, tenantID string, acct *models.PaymentAccount, ttl time.Duration) error {
	raw, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, accountStatusKey(tenantID), raw, ttl).Err()
}

// DeleteAccountStatus invalidates a tenant's cached payment account
func (c *Client) DeleteAccountStatus(ctx context.Context, tenantID string) error {
	return c.rdb.Del(ctx, accountStatusKey(tenantID)).Err()
}

func idempotencyKey(tenantID, key string) string {
	return fmt.Sprintf("idempotency:checkout:%s:%s", tenantID, key)
}

// SetIdempotentResponse stores a response for replay under a tenant-scoped key
func (c *Client) SetIdempotentResponse(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(tenantID, key), value, ttl).Err()
}

// GetIdempotentResponse returns a stored response or ErrCacheMiss
func (c *Client) GetIdempotentResponse(ctx context.Context, tenantID, key string) ([]byte, error) {
	raw, err := c.rdb.Get(ctx, idempotencyKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotent response: %w", err)
	}
	return raw, nil
}

// AcquireLock acquires a distributed lock. The returned token must be passed
// to ReleaseLock; an empty token means the lock is held elsewhere.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock releases a lock only if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
