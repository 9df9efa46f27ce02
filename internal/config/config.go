package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 180 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Database: DatabaseConfig{
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    5,
				MaxIdleConns:    1,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		Phoenix: PhoenixConfig{
			PasswordEnv:    "PHOENIX_PASSWORD",
			RequestTimeout: Duration{Duration: 20 * time.Second},
		},
		L402: L402Config{
			Location:   "l402gate",
			RootKeyEnv: "L402_ROOT_KEY",
		},
		BTCPrice: BTCPriceConfig{
			CacheSeconds: 60,
			Timeout:      Duration{Duration: 5 * time.Second},
		},
		Hire: HireConfig{
			TaskPostingFeeSats: 50,
			QuoteFeeSats:       10,
		},
		APIs:            map[string]APIConfig{},
		MaxRequestBytes: 32768,
		InvoiceExpiry:   Duration{Duration: 10 * time.Minute},

		UsedHashTTLSeconds:             3600,
		UsedHashCleanupIntervalSeconds: 300,

		RateLimit: RateLimitConfig{
			GlobalEnabled:   true,
			GlobalLimit:     1000,
			GlobalWindow:    Duration{Duration: time.Minute},
			PerTokenEnabled: true,
			PerTokenLimit:   120,
			PerTokenWindow:  Duration{Duration: time.Minute},
			PerIPEnabled:    true,
			PerIPLimit:      240,
			PerIPWindow:     Duration{Duration: time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Lightning: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Upstream: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
		Callbacks: CallbacksConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 3 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
			DLQEnabled: false,
			DLQPath:    "./data/webhook-dlq.json",
		},
		Monitoring: MonitoringConfig{
			LowBalanceThresholdSat: 10000,
			CheckInterval:          Duration{Duration: 15 * time.Minute},
			Headers:                make(map[string]string),
			Timeout:                Duration{Duration: 5 * time.Second},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// EndpointFor resolves an upstream endpoint configuration by API name and path,
// the lookup the payment-gate middleware (C7 step 1) performs on every gated call.
func (c *Config) EndpointFor(apiName, path string) (APIConfig, Endpoint, bool) {
	api, ok := c.APIs[apiName]
	if !ok {
		return APIConfig{}, Endpoint{}, false
	}
	for _, ep := range api.Endpoints {
		if ep.Path == path {
			return api, ep, true
		}
	}
	return APIConfig{}, Endpoint{}, false
}

// MaxBytesFor returns the effective body-size cap for an endpoint, falling back
// to the global default when the endpoint does not override it.
func (c *Config) MaxBytesFor(ep Endpoint) int64 {
	if ep.MaxRequestBytes > 0 {
		return ep.MaxRequestBytes
	}
	return c.MaxRequestBytes
}
