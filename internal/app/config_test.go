package app

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("RESEND_API_KEY", "re_test")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_BASE_URL", "https://app.buildledger.pro/")
	t.Setenv("CURRENCY", "USD")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "https://app.buildledger.pro", cfg.AppBaseURL)
	assert.Equal(t, "usd", cfg.Currency)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 15*time.Second, cfg.LockTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.True(t, cfg.PGMigrate)
	assert.Equal(t, "@every 15m", cfg.ReceiptSweepSpec)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsWeakSecrets(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "short")
	_, err := LoadConfig()
	assert.Error(t, err)

	setRequiredEnv(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "not-a-webhook-secret")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsEmptyProviderKeys(t *testing.T) {
	for _, key := range []string{"STRIPE_SECRET_KEY", "RESEND_API_KEY"} {
		t.Run(key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(key, "  ")
			_, err := LoadConfig()
			assert.Error(t, err)

			t.Setenv(key, "")
			_, err = LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestConfigLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "debug"}).Level())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: "loud"}).Level())
	var cfg *Config
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}
