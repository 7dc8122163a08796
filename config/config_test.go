package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "usd", cfg.Stripe.Currency)
	assert.Equal(t, 10*time.Second, cfg.Checkout.ProcessorTimeout())
	assert.Equal(t, 24*time.Hour, cfg.Checkout.SessionExpiry())
	assert.Equal(t, time.Minute, cfg.Reconcile.AccountStatusCacheTTL())
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PROCESSOR_TIMEOUT_SECONDS", "4")
	t.Setenv("ACCOUNT_POLL_INTERVAL_SECONDS", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 4*time.Second, cfg.Checkout.ProcessorTimeout())
	assert.Equal(t, 30*time.Second, cfg.Reconcile.AccountPollInterval())
}

func TestLoadRejectsMissingSecretsInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("AUTH_TOKEN_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
	assert.Contains(t, err.Error(), "AUTH_TOKEN_SECRET")

	t.Setenv("STRIPE_SECRET_KEY", "sk_live_x")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")
	t.Setenv("AUTH_TOKEN_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoadRejectsBadTimeouts(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT_SECONDS", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "WEBHOOK_TIMEOUT_SECONDS")
}
