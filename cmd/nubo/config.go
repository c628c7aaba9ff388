package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CatalogConfig points at the cloud_environments.yml document.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig selects the cache backend remembering provider-assigned
// names between create and delete.
type CacheConfig struct {
	// Mode is "memory" or "redis".
	Mode     string `mapstructure:"mode"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BillingConfig holds consumption reporting configuration.
type BillingConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
}

// WorkersConfig tunes the background loops.
type WorkersConfig struct {
	ProvisionInterval      time.Duration `mapstructure:"provision_interval"`
	ProvisionMaxConcurrent int           `mapstructure:"provision_max_concurrent"`
	TeardownInterval       time.Duration `mapstructure:"teardown_interval"`
	TeardownMaxRetry       int           `mapstructure:"teardown_max_retry"`
	TeardownWaitTime       time.Duration `mapstructure:"teardown_wait_time"`
	TeardownBatchSize      int           `mapstructure:"teardown_batch_size"`
}

// ProvidersConfig enables and configures the cloud backends. A disabled
// provider falls through to the void driver.
type ProvidersConfig struct {
	AWS      AWSProviderConfig      `mapstructure:"aws"`
	Azure    AzureProviderConfig    `mapstructure:"azure"`
	GCP      GCPProviderConfig      `mapstructure:"gcp"`
	OVH      OVHProviderConfig      `mapstructure:"ovh"`
	Scaleway ScalewayProviderConfig `mapstructure:"scaleway"`
}

// AWSProviderConfig holds AWS credentials.
type AWSProviderConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// AzureProviderConfig holds Azure service principal credentials.
type AzureProviderConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SubscriptionID string        `mapstructure:"subscription_id"`
	TenantID       string        `mapstructure:"tenant_id"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	ResourceGroup  string        `mapstructure:"resource_group"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// GCPProviderConfig holds GCP service account credentials.
type GCPProviderConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// OVHProviderConfig holds OVH API credentials.
type OVHProviderConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Endpoint          string        `mapstructure:"endpoint"`
	ApplicationKey    string        `mapstructure:"application_key"`
	ApplicationSecret string        `mapstructure:"application_secret"`
	ConsumerKey       string        `mapstructure:"consumer_key"`
	ServiceName       string        `mapstructure:"service_name"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// ScalewayProviderConfig holds Scaleway API credentials.
type ScalewayProviderConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	ProjectID string        `mapstructure:"project_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/nubo.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("catalog.path", "./configs/cloud_environments.yml")
	v.SetDefault("cache.mode", "memory")
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)

	// Billing defaults
	v.SetDefault("billing.enabled", false)
	v.SetDefault("billing.url", "")
	v.SetDefault("billing.api_key", "")
	v.SetDefault("billing.report_interval", "60s")
	v.SetDefault("billing.batch_size", 100)

	// Worker defaults
	v.SetDefault("workers.provision_interval", "5s")
	v.SetDefault("workers.provision_max_concurrent", 3)
	v.SetDefault("workers.teardown_interval", "30s")
	v.SetDefault("workers.teardown_max_retry", 5)
	v.SetDefault("workers.teardown_wait_time", "10s")
	v.SetDefault("workers.teardown_batch_size", 20)

	// Provider defaults: all disabled, void fallback serves their calls
	for _, p := range []string{"aws", "azure", "gcp", "ovh", "scaleway"} {
		v.SetDefault("providers."+p+".enabled", false)
		v.SetDefault("providers."+p+".timeout", "60s")
	}
	v.SetDefault("providers.ovh.endpoint", "ovh-eu")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("NUBO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that cannot produce a working server.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Cache.Mode {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.mode must be memory or redis, got %q", c.Cache.Mode)
	}
	if c.Billing.Enabled && c.Billing.URL == "" {
		return fmt.Errorf("billing.url is required when billing is enabled")
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
