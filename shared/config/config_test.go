package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "587")
	t.Setenv("SMTP_USERNAME", "user")
	t.Setenv("SMTP_PASSWORD", "pass")
	t.Setenv("MAILER_SENDER", "no-reply@example.com")
	t.Setenv("MAILER_TEMPLATE_PATH", "/tmp/template.html")
	t.Setenv("MAILER_CONTACTS_FILE", "/tmp/contacts.csv")
}

func TestLoadConfigDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, 3, cfg.SMTP.RetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.SMTP.RetryDelay)
	assert.Equal(t, 50, cfg.Mailer.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Mailer.BatchDelay)
	assert.Equal(t, StoreBackendCSV, cfg.Mailer.StoreBackend)
	assert.Equal(t, "reports", cfg.Mailer.ReportsDir)
	assert.False(t, cfg.Mailer.DryRun)
}

func TestLoadConfigOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SMTP_RETRY_ATTEMPTS", "5")
	t.Setenv("SMTP_RETRY_DELAY_SECONDS", "0")
	t.Setenv("MAILER_BATCH_SIZE", "25")
	t.Setenv("MAILER_BATCH_DELAY_SECONDS", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.SMTP.RetryAttempts)
	assert.Equal(t, time.Duration(0), cfg.SMTP.RetryDelay)
	assert.Equal(t, 25, cfg.Mailer.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Mailer.BatchDelay)
}

func TestLoadConfigRequiresSMTPHost(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SMTP_HOST", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP_HOST")
}

func TestLoadConfigDryRunSkipsSMTPValidation(t *testing.T) {
	setValidEnv(t)
	t.Setenv("SMTP_HOST", "")
	t.Setenv("SMTP_USERNAME", "")
	t.Setenv("SMTP_PASSWORD", "")
	t.Setenv("MAILER_DRY_RUN", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Mailer.DryRun)
}

func TestLoadConfigDatabaseBackendRequiresURL(t *testing.T) {
	setValidEnv(t)
	t.Setenv("MAILER_STORE_BACKEND", "database")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/mailer")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreBackendDatabase, cfg.Mailer.StoreBackend)
}

func TestLoadConfigUnknownBackend(t *testing.T) {
	setValidEnv(t)
	t.Setenv("MAILER_STORE_BACKEND", "ftp")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAILER_STORE_BACKEND")
}
