package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "maintenance.db", cfg.DBPath)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, time.Hour, cfg.SchedulerInterval)
	assert.False(t, cfg.ScenariosEnabled)

	billingCfg := cfg.BillingConfig()
	assert.Equal(t, "0.01", billingCfg.Tolerance.String())
	assert.Equal(t, time.UTC, billingCfg.Location)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("TIMEZONE", "Asia/Kolkata")
	t.Setenv("PAYMENT_TOLERANCE", "0.5")
	t.Setenv("SCHEDULER_ENABLED", "true")
	t.Setenv("SCHEDULER_INTERVAL", "15m")
	t.Setenv("CORS_ORIGINS", "https://admin.example.com,https://app.example.com")
	t.Setenv("SCENARIOS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, 15*time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, []string{"https://admin.example.com", "https://app.example.com"}, cfg.CORSOrigins)
	assert.True(t, cfg.ScenariosEnabled)
	assert.Equal(t, "0.50", cfg.BillingConfig().Tolerance.String())
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=from-file\nDB_PATH=/tmp/billing.db\n"), 0o600))
	unsetenv(t, "JWT_SECRET")
	unsetenv(t, "DB_PATH")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "/tmp/billing.db", cfg.DBPath)
}

// unsetenv clears key for the test and restores it afterwards.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestValidate(t *testing.T) {
	valid := Config{Port: 8080, JWTSecret: "x", Timezone: "UTC", PaymentTolerance: "0.01", SchedulerInterval: time.Hour}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.JWTSecret = "" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"unknown timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad tolerance", func(c *Config) { c.PaymentTolerance = "a bit" }},
		{"negative tolerance", func(c *Config) { c.PaymentTolerance = "-0.01" }},
		{"zero interval", func(c *Config) { c.SchedulerEnabled = true; c.SchedulerInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)
}
