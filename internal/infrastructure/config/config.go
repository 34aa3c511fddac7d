package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	sharedConfig "courseledger/internal/shared/config"
)

type Config struct {
	Server    sharedConfig.ServerConfig    `mapstructure:"server"`
	Logger    sharedConfig.LoggerConfig    `mapstructure:"logger"`
	Database  sharedConfig.DatabaseConfig  `mapstructure:"database"`
	Redis     sharedConfig.RedisConfig     `mapstructure:"redis"`
	Ledger    sharedConfig.LedgerConfig    `mapstructure:"ledger"`
	Index     sharedConfig.IndexConfig     `mapstructure:"index"`
	Access    sharedConfig.AccessConfig    `mapstructure:"access"`
	Pricing   sharedConfig.PricingConfig   `mapstructure:"pricing"`
	Reconcile sharedConfig.ReconcileConfig `mapstructure:"reconcile"`
	Cache     sharedConfig.CacheConfig     `mapstructure:"cache"`
	Auth      sharedConfig.AuthConfig      `mapstructure:"auth"`
	RateLimit sharedConfig.RateLimitConfig `mapstructure:"rate_limit"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load reads configs/config.yaml, or path when given, and overlays
// COURSELEDGER_* environment variables. A missing default config file is
// not an error; defaults and the environment are enough to run.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	// Set environment variable prefix and replacer
	v.SetEnvPrefix("COURSELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

func validate(c *Config) error {
	switch {
	case c.Ledger.BaseURL == "":
		return fmt.Errorf("ledger.base_url is required")
	case c.Index.BaseURL == "":
		return fmt.Errorf("index.base_url is required")
	case c.Pricing.Currency == "":
		return fmt.Errorf("pricing.currency is required")
	}
	switch c.Database.Driver {
	case "", "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output_path", "stdout")

	// Journal database defaults; empty driver disables the journal
	v.SetDefault("database.driver", "")
	v.SetDefault("database.path", "courseledger.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 60)

	// Redis defaults; empty host disables index events
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Ledger defaults
	v.SetDefault("ledger.base_url", "http://localhost:8545/v1")
	v.SetDefault("ledger.request_timeout", 15*time.Second)
	v.SetDefault("ledger.rate_limit", 20)
	v.SetDefault("ledger.rate_burst", 5)
	v.SetDefault("ledger.poll_interval", 2*time.Second)
	v.SetDefault("ledger.confirmation_timeout", 90*time.Second)
	v.SetDefault("ledger.retry.initial", 500*time.Millisecond)
	v.SetDefault("ledger.retry.max", 10*time.Second)
	v.SetDefault("ledger.retry.multiplier", 2.0)
	v.SetDefault("ledger.retry.jitter", 0.2)
	v.SetDefault("ledger.retry.max_attempts", 5)

	// Index defaults
	v.SetDefault("index.base_url", "http://localhost:8000")
	v.SetDefault("index.request_timeout", 5*time.Second)
	v.SetDefault("index.rate_limit", 50)
	v.SetDefault("index.rate_burst", 10)
	v.SetDefault("index.last_good_ttl", 24*time.Hour)
	v.SetDefault("index.fallback_to_ledger", true)
	v.SetDefault("index.analytics_ttl", 5*time.Minute)
	v.SetDefault("index.analytics_refresh_threshold", time.Minute)
	v.SetDefault("index.analytics_warmup_interval", 10*time.Minute)

	// Access token defaults
	v.SetDefault("access.issuer_url", "http://localhost:9000")
	v.SetDefault("access.request_timeout", 10*time.Second)
	v.SetDefault("access.refresh_threshold", 60*time.Second)
	v.SetDefault("access.first_retry_delay", 5*time.Second)
	v.SetDefault("access.retry.initial", 20*time.Second)
	v.SetDefault("access.retry.max", 5*time.Minute)
	v.SetDefault("access.retry.multiplier", 2.0)

	// Pricing defaults
	v.SetDefault("pricing.currency", "USD")
	v.SetDefault("pricing.default_price", 0)
	v.SetDefault("pricing.rate_api_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("pricing.rate_token_id", "tether")
	v.SetDefault("pricing.rate_ttl", 5*time.Minute)
	v.SetDefault("pricing.rate_refresh_threshold", time.Minute)
	v.SetDefault("pricing.rate_max_age", 15*time.Minute)
	v.SetDefault("pricing.min_rate", 0.0001)
	v.SetDefault("pricing.max_rate", 1000000.0)
	v.SetDefault("pricing.max_rate_change", 0.5)

	// Reconcile defaults
	v.SetDefault("reconcile.renewal_window", 7*24*time.Hour)
	v.SetDefault("reconcile.allow_unlicensed_completion", false)
	v.SetDefault("reconcile.convergence.initial", 500*time.Millisecond)
	v.SetDefault("reconcile.convergence.max", 5*time.Second)
	v.SetDefault("reconcile.convergence.multiplier", 2.0)
	v.SetDefault("reconcile.convergence.jitter", 0.2)
	v.SetDefault("reconcile.convergence_attempts", 10)
	v.SetDefault("reconcile.background_attempts", 10)
	v.SetDefault("reconcile.sweep_interval", 5*time.Minute)
	v.SetDefault("reconcile.journal_retention", 7*24*time.Hour)

	// Mutation rate limit defaults; zero disables a window
	v.SetDefault("rate_limit.mutations_per_minute", 30)
	v.SetDefault("rate_limit.mutations_per_hour", 300)
	v.SetDefault("rate_limit.mutations_per_day", 0)

	// Cache defaults
	v.SetDefault("cache.view_ttl", 10*time.Second)
	v.SetDefault("cache.refresh_threshold", time.Minute)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
}
