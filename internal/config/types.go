package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string-based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or bare numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Phoenix        PhoenixConfig        `yaml:"phoenix"`
	L402           L402Config           `yaml:"l402"`
	BTCPrice       BTCPriceConfig       `yaml:"btc_price"`
	Hire           HireConfig           `yaml:"hire"`
	APIs           map[string]APIConfig `yaml:"apis"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`

	// MaxRequestBytes is the global default body-size cap (spec.md §6).
	MaxRequestBytes int64 `yaml:"max_request_bytes"`
	// InvoiceExpiry is how long a freshly minted Lightning invoice stays payable.
	InvoiceExpiry Duration `yaml:"invoice_expiry"`
	// UsedHashTTLSeconds / UsedHashCleanupIntervalSeconds configure the C2 used-hash set (spec.md §4.2).
	UsedHashTTLSeconds             int `yaml:"used_hash_ttl_seconds"`
	UsedHashCleanupIntervalSeconds int `yaml:"used_hash_cleanup_interval_seconds"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Environment string `yaml:"environment"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the account ledger and marketplace.
type DatabaseConfig struct {
	PostgresURL  string             `yaml:"postgres_url"`
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
	// PostgresURLFallbacks are additional DSNs tried in order, after
	// PostgresURL, if the primary fails to open or ping at startup — e.g. a
	// direct-DB host followed by one or more regional pooler hosts. spec.md
	// §9 calls this "retry-with-fallback DSN candidates"; unlike the
	// original Supabase-specific implementation, which derived pooler
	// hostnames from a project ref, these are supplied as complete DSNs
	// since this gateway isn't tied to one hosting provider's naming scheme.
	PostgresURLFallbacks []string `yaml:"postgres_url_fallbacks"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
// spec.md §5 requires a tightly bounded pool (min 1, max 5) with the statement cache disabled.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// PhoenixConfig holds the Lightning node HTTP client configuration (C4).
type PhoenixConfig struct {
	URL            string   `yaml:"url"`
	PasswordEnv    string   `yaml:"password_env"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// L402Config holds macaroon signing configuration (C3).
type L402Config struct {
	Location   string `yaml:"location"`
	RootKeyEnv string `yaml:"root_key_env"`
}

// BTCPriceConfig configures the read-through BTC/USD price cache used only for
// the human-readable catalog display (never for settlement math).
type BTCPriceConfig struct {
	Source       string   `yaml:"source"`
	CacheSeconds int      `yaml:"cache_seconds"`
	Timeout      Duration `yaml:"timeout"`
}

// HireConfig holds the marketplace's fixed fee schedule (spec.md §6).
type HireConfig struct {
	TaskPostingFeeSats int64 `yaml:"task_posting_fee_sats"`
	QuoteFeeSats       int64 `yaml:"quote_fee_sats"`
}

// APIConfig describes a single gated upstream API (spec.md §6 "apis.<name>").
type APIConfig struct {
	UpstreamBase string              `yaml:"upstream_base"`
	APIKeyEnv    string              `yaml:"api_key_env"`
	AuthHeader   string              `yaml:"auth_header"`
	AuthPrefix   string              `yaml:"auth_prefix"`
	ExtraHeaders map[string]string   `yaml:"extra_headers"`
	Endpoints    map[string]Endpoint `yaml:"endpoints"`
}

// PriceType distinguishes flat-priced endpoints from per-model priced ones.
type PriceType string

const (
	PriceFlat     PriceType = "flat"
	PricePerModel PriceType = "per_model"
)

// Endpoint describes one gated upstream operation and its pricing.
type Endpoint struct {
	Path            string                 `yaml:"path"`
	Method          string                 `yaml:"method"`
	PriceType       PriceType              `yaml:"price_type"`
	PriceSats       int64                  `yaml:"price_sats"`
	Models          map[string]ModelPrice  `yaml:"models"`
	MaxRequestBytes int64                  `yaml:"max_request_bytes"`
	Description     string                 `yaml:"description"`
	DailyCallCap    int                    `yaml:"daily_call_cap"`
	Streamable      bool                   `yaml:"streamable"`
	Timeout         Duration               `yaml:"timeout"`
	Extras          map[string]interface{} `yaml:"extras"`
}

// ModelPrice is the per-model price and optional output-token cap (spec.md §4.7 step 3).
type ModelPrice struct {
	PriceSats      int64 `yaml:"price_sats"`
	MaxOutputTokens int  `yaml:"max_output_tokens"`
}

// RateLimitConfig holds multi-tier rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerTokenEnabled bool     `yaml:"per_token_enabled"`
	PerTokenLimit   int      `yaml:"per_token_limit"`
	PerTokenWindow  Duration `yaml:"per_token_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	Lightning BreakerServiceConfig `yaml:"lightning"`
	Upstream  BreakerServiceConfig `yaml:"upstream"`
	Webhook   BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// CallbacksConfig holds outbound webhook configuration for gateway-side
// events (top-up settlement, marketplace delivery confirmation). URLs maps
// an event type ("topup.settled", "hire.delivery_confirmed") to the target
// endpoint; an event type with no entry is not delivered.
type CallbacksConfig struct {
	URLs       map[string]string `yaml:"urls"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    Duration          `yaml:"timeout"`
	Retry      RetryConfig       `yaml:"retry"`
	DLQEnabled bool              `yaml:"dlq_enabled"`
	DLQPath    string            `yaml:"dlq_path"`
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// MonitoringConfig holds Lightning-node liquidity monitoring configuration.
type MonitoringConfig struct {
	LowBalanceAlertURL     string            `yaml:"low_balance_alert_url"`
	LowBalanceThresholdSat int64             `yaml:"low_balance_threshold_sats"`
	CheckInterval          Duration          `yaml:"check_interval"`
	Headers                map[string]string `yaml:"headers"`
	Timeout                Duration          `yaml:"timeout"`
}
