package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// InstanceID tags published index events; empty picks a random id.
	InstanceID string `mapstructure:"instance_id"`
}

func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig configures the pending-operation journal. An empty Driver
// disables the journal.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Path            string `mapstructure:"path"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) Enabled() bool {
	return d.Driver != ""
}

func (d *DatabaseConfig) GetDSN() string {
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.Username, d.Password, d.Host, d.Port, d.Database)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			d.Host, d.Port, d.Username, d.Password, d.Database)
	default:
		return d.Path
	}
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RetryConfig is the wire form of retry.Policy.
type RetryConfig struct {
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type LedgerConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	RateLimit           float64       `mapstructure:"rate_limit"`
	RateBurst           int           `mapstructure:"rate_burst"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	Retry               RetryConfig   `mapstructure:"retry"`
}

type IndexConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst"`
	LastGoodTTL      time.Duration `mapstructure:"last_good_ttl"`
	FallbackLedger   bool          `mapstructure:"fallback_to_ledger"`
	AnalyticsTTL     time.Duration `mapstructure:"analytics_ttl"`
	AnalyticsRefresh time.Duration `mapstructure:"analytics_refresh_threshold"`
	AnalyticsWarmup  time.Duration `mapstructure:"analytics_warmup_interval"`
}

type AccessConfig struct {
	IssuerURL        string        `mapstructure:"issuer_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
	FirstRetryDelay  time.Duration `mapstructure:"first_retry_delay"`
	Retry            RetryConfig   `mapstructure:"retry"`
}

type PricingConfig struct {
	Currency       string           `mapstructure:"currency"`
	UnitPrices     map[string]int64 `mapstructure:"unit_prices"`
	DefaultPrice   int64            `mapstructure:"default_price"`
	MultiUnitTiers map[int]float64  `mapstructure:"multi_unit_tiers"`
	RateTokenID    string           `mapstructure:"rate_token_id"`
	RateAPIURL     string           `mapstructure:"rate_api_url"`
	RateTTL        time.Duration    `mapstructure:"rate_ttl"`
	RateThreshold  time.Duration    `mapstructure:"rate_refresh_threshold"`
	RateMaxAge     time.Duration    `mapstructure:"rate_max_age"`
	MinRate        float64          `mapstructure:"min_rate"`
	MaxRate        float64          `mapstructure:"max_rate"`
	MaxRateChange  float64          `mapstructure:"max_rate_change"`
}

type ReconcileConfig struct {
	RenewalWindow             time.Duration `mapstructure:"renewal_window"`
	AllowUnlicensedCompletion bool          `mapstructure:"allow_unlicensed_completion"`
	ConvergenceAttempts       int           `mapstructure:"convergence_attempts"`
	Convergence               RetryConfig   `mapstructure:"convergence"`
	BackgroundAttempts        int           `mapstructure:"background_attempts"`
	SweepInterval             time.Duration `mapstructure:"sweep_interval"`
	JournalRetention          time.Duration `mapstructure:"journal_retention"`
}

type CacheConfig struct {
	ViewTTL          time.Duration `mapstructure:"view_ttl"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
	Retry            RetryConfig   `mapstructure:"retry"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// RateLimitConfig caps mutations per subject. It needs Redis; zero disables
// a window.
type RateLimitConfig struct {
	MutationsPerMinute int `mapstructure:"mutations_per_minute"`
	MutationsPerHour   int `mapstructure:"mutations_per_hour"`
	MutationsPerDay    int `mapstructure:"mutations_per_day"`
}
