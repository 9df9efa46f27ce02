package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate rejects impossible configs at startup rather than at request time.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Address == "" {
		errs = append(errs, "server.address must be set")
	}

	if c.Database.PostgresURL == "" {
		errs = append(errs, "database.postgres_url is required")
	}

	if c.Phoenix.URL == "" {
		errs = append(errs, "phoenix.url is required")
	}
	if c.Phoenix.PasswordEnv == "" {
		errs = append(errs, "phoenix.password_env is required")
	}

	if c.L402.Location == "" {
		errs = append(errs, "l402.location is required")
	}
	if c.L402.RootKeyEnv == "" {
		errs = append(errs, "l402.root_key_env is required")
	}

	if c.MaxRequestBytes <= 0 {
		errs = append(errs, "max_request_bytes must be positive")
	}
	if c.InvoiceExpiry.Duration <= 0 {
		errs = append(errs, "invoice_expiry must be positive")
	}
	if c.UsedHashTTLSeconds <= 0 {
		errs = append(errs, "used_hash_ttl_seconds must be positive")
	}
	if c.UsedHashCleanupIntervalSeconds <= 0 {
		errs = append(errs, "used_hash_cleanup_interval_seconds must be positive")
	}

	if c.Hire.TaskPostingFeeSats < 0 {
		errs = append(errs, "hire.task_posting_fee_sats must not be negative")
	}
	if c.Hire.QuoteFeeSats < 0 {
		errs = append(errs, "hire.quote_fee_sats must not be negative")
	}

	for name, api := range c.APIs {
		if api.UpstreamBase == "" {
			errs = append(errs, fmt.Sprintf("apis.%s.upstream_base is required", name))
		}
		if len(api.Endpoints) == 0 {
			errs = append(errs, fmt.Sprintf("apis.%s must define at least one endpoint", name))
		}
		for path, ep := range api.Endpoints {
			switch ep.PriceType {
			case PriceFlat:
				if ep.PriceSats <= 0 {
					errs = append(errs, fmt.Sprintf("apis.%s.endpoints.%s: price_sats must be positive for price_type=flat", name, path))
				}
			case PricePerModel:
				if len(ep.Models) == 0 {
					errs = append(errs, fmt.Sprintf("apis.%s.endpoints.%s: models must define at least one entry for price_type=per_model", name, path))
				}
				for model, mp := range ep.Models {
					if mp.PriceSats <= 0 {
						errs = append(errs, fmt.Sprintf("apis.%s.endpoints.%s.models.%s: price_sats must be positive", name, path, model))
					}
				}
			default:
				errs = append(errs, fmt.Sprintf("apis.%s.endpoints.%s: price_type must be %q or %q, got %q", name, path, PriceFlat, PricePerModel, ep.PriceType))
			}
			if ep.DailyCallCap < 0 {
				errs = append(errs, fmt.Sprintf("apis.%s.endpoints.%s: daily_call_cap must not be negative", name, path))
			}
		}
	}

	if c.RateLimit.GlobalEnabled && c.RateLimit.GlobalLimit <= 0 {
		errs = append(errs, "rate_limit.global_limit must be positive when global_enabled")
	}
	if c.RateLimit.PerTokenEnabled && c.RateLimit.PerTokenLimit <= 0 {
		errs = append(errs, "rate_limit.per_token_limit must be positive when per_token_enabled")
	}
	if c.RateLimit.PerIPEnabled && c.RateLimit.PerIPLimit <= 0 {
		errs = append(errs, "rate_limit.per_ip_limit must be positive when per_ip_enabled")
	}

	if c.CircuitBreaker.Enabled {
		for label, bc := range map[string]BreakerServiceConfig{
			"lightning": c.CircuitBreaker.Lightning,
			"upstream":  c.CircuitBreaker.Upstream,
			"webhook":   c.CircuitBreaker.Webhook,
		} {
			if bc.FailureRatio < 0 || bc.FailureRatio > 1 {
				errs = append(errs, fmt.Sprintf("circuit_breaker.%s.failure_ratio must be between 0 and 1", label))
			}
		}
	}

	if c.Callbacks.Retry.Enabled {
		if c.Callbacks.Retry.MaxAttempts <= 0 {
			errs = append(errs, "callbacks.retry.max_attempts must be positive when retry enabled")
		}
		if c.Callbacks.Retry.Multiplier <= 1.0 {
			errs = append(errs, "callbacks.retry.multiplier must be greater than 1.0")
		}
	}
	if c.Callbacks.DLQEnabled && c.Callbacks.DLQPath == "" {
		errs = append(errs, "callbacks.dlq_path is required when dlq_enabled")
	}

	if c.Monitoring.LowBalanceThresholdSat < 0 {
		errs = append(errs, "monitoring.low_balance_threshold_sats must not be negative")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies the bounded pool settings spec.md §5 requires
// (min 1, max 5) to an open database handle, falling back to those bounds when
// the config leaves them at zero.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 1
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
