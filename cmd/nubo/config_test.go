package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./data/nubo.db", cfg.Database.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "./configs/cloud_environments.yml", cfg.Catalog.Path)
	assert.Equal(t, "memory", cfg.Cache.Mode)
	assert.False(t, cfg.Billing.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Billing.ReportInterval)
	assert.Equal(t, 100, cfg.Billing.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Workers.ProvisionInterval)
	assert.Equal(t, 3, cfg.Workers.ProvisionMaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Workers.TeardownInterval)
	assert.Equal(t, 5, cfg.Workers.TeardownMaxRetry)
	assert.Equal(t, 10*time.Second, cfg.Workers.TeardownWaitTime)
	assert.Equal(t, 20, cfg.Workers.TeardownBatchSize)
	assert.False(t, cfg.Providers.AWS.Enabled)
	assert.Equal(t, "ovh-eu", cfg.Providers.OVH.Endpoint)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  read_timeout: 60s
  write_timeout: 60s
  shutdown_timeout: 15s

database:
  dsn: "/tmp/test.db"

log:
  level: "debug"
  format: "text"

catalog:
  path: "/etc/nubo/catalog.yml"

cache:
  mode: "redis"
  addr: "redis:6379"

workers:
  teardown_max_retry: 7
  teardown_wait_time: 3s

providers:
  aws:
    enabled: true
    access_key_id: "AKIA_TEST"
    secret_access_key: "secret"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/etc/nubo/catalog.yml", cfg.Catalog.Path)
	assert.Equal(t, "redis", cfg.Cache.Mode)
	assert.Equal(t, "redis:6379", cfg.Cache.Addr)
	assert.Equal(t, 7, cfg.Workers.TeardownMaxRetry)
	assert.Equal(t, 3*time.Second, cfg.Workers.TeardownWaitTime)
	assert.True(t, cfg.Providers.AWS.Enabled)
	assert.Equal(t, "AKIA_TEST", cfg.Providers.AWS.AccessKeyID)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("NUBO_SERVER_HOST", "192.168.1.1")
	t.Setenv("NUBO_SERVER_PORT", "3000")
	t.Setenv("NUBO_DATABASE_DSN", "/custom/path.db")
	t.Setenv("NUBO_LOG_LEVEL", "warn")
	t.Setenv("NUBO_CACHE_MODE", "redis")
	t.Setenv("NUBO_WORKERS_TEARDOWN_MAX_RETRY", "9")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Cache.Mode)
	assert.Equal(t, 9, cfg.Workers.TeardownMaxRetry)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Validate_PortOutOfRange(t *testing.T) {
	clearEnv(t)

	t.Setenv("NUBO_SERVER_PORT", "70000")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestConfig_Validate_UnknownCacheMode(t *testing.T) {
	clearEnv(t)

	t.Setenv("NUBO_CACHE_MODE", "memcached")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.mode")
}

func TestConfig_Validate_BillingNeedsURL(t *testing.T) {
	clearEnv(t)

	t.Setenv("NUBO_BILLING_ENABLED", "true")

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing.url")
}

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}

	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_JSONFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "invalid",
			Format: "json",
		},
	}

	// Should fall back to info level, not panic
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"NUBO_SERVER_HOST",
		"NUBO_SERVER_PORT",
		"NUBO_DATABASE_DSN",
		"NUBO_LOG_LEVEL",
		"NUBO_LOG_FORMAT",
		"NUBO_CACHE_MODE",
		"NUBO_BILLING_ENABLED",
		"NUBO_WORKERS_TEARDOWN_MAX_RETRY",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
