package config

import (
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "GATEWAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "GATEWAY_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "GATEWAY_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	setIfEnv(&c.Logging.Level, "GATEWAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "GATEWAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "GATEWAY_ENVIRONMENT")

	setIfEnv(&c.Database.PostgresURL, "DATABASE_URL")
	setIfEnv(&c.Phoenix.URL, "PHOENIX_URL")
	setDurationIfEnv(&c.Phoenix.RequestTimeout, "PHOENIX_REQUEST_TIMEOUT")

	setIfEnv(&c.BTCPrice.Source, "BTC_PRICE_SOURCE")

	// Per-API upstream keys are read directly off apis.<name>.api_key_env by the
	// upstream proxy (C8) at call time, not copied into config here, so that a
	// rotated key never requires a config reload.
}

func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
