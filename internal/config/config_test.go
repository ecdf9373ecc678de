package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("PAYPAL_CLIENT_ID", "id")
	t.Setenv("PAYPAL_CLIENT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ModeSandbox, cfg.PayPal.Mode)
	assert.Equal(t, "https://api-m.sandbox.paypal.com", cfg.PayPal.APIBaseURL())
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 10*time.Second, cfg.Orders.GatewayTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Orders.Retention)
	assert.Equal(t, 3*time.Hour, cfg.Orders.ApprovalTTL)
	assert.False(t, cfg.Live())
}

func TestLoadLiveMode(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYPAL_MODE", "LIVE")
	t.Setenv("PUBLIC_BASE_URL", "https://shop.example.com/")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.True(t, cfg.Live())
	assert.Equal(t, "https://api-m.paypal.com", cfg.PayPal.APIBaseURL())
	assert.Equal(t, "https://shop.example.com", cfg.PublicBaseURL)
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("PAYPAL_CLIENT_ID", "")
	t.Setenv("PAYPAL_CLIENT_SECRET", "")
	os.Unsetenv("TELEGRAM_BOT_TOKEN")
	os.Unsetenv("PAYPAL_CLIENT_ID")
	os.Unsetenv("PAYPAL_CLIENT_SECRET")

	_, err := Load(nil)
	require.Error(t, err)
}

func TestLoadInvalidMode(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYPAL_MODE", "staging")

	_, err := Load(nil)
	require.ErrorContains(t, err, "PAYPAL_MODE")
}

func TestLoadEnvFile(t *testing.T) {
	setRequired(t)
	t.Setenv("SCHEDULER_WORKERS", "")
	os.Unsetenv("SCHEDULER_WORKERS")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SCHEDULER_WORKERS=3\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SCHEDULER_WORKERS") })

	cfg, err := Load([]string{path, filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scheduler.Workers)
}
