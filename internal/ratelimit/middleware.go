// Package ratelimit implements the gateway's three-tier HTTP rate limiter
// (global/per-token/per-IP, spec.md §5) on top of the teacher's httprate
// wiring, generalized from wallet-address keys to bearer-token keys.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/l402gate/server/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	PerTokenEnabled bool
	PerTokenLimit   int
	PerTokenWindow  time.Duration

	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns the defaults spec.md §5 implies for a gateway that
// wants to stop obvious abuse without restricting legitimate per-request
// billing traffic.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,

		PerTokenEnabled: true,
		PerTokenLimit:   120,
		PerTokenWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   240,
		PerIPWindow:  time.Minute,
	}
}

func createRateLimitHandler(limitType string, windowSeconds int, extractIdentifier func(*http.Request) string, metricsCollector *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := "all"
		if extractIdentifier != nil {
			if id := extractIdentifier(r); id != "" {
				identifier = id
			}
		}

		if metricsCollector != nil {
			metricsCollector.ObserveRateLimit(limitType, identifier)
		}

		var message string
		switch limitType {
		case "global":
			message = "Global rate limit exceeded. Please try again later."
		case "per_token":
			message = "Per-token rate limit exceeded. Please try again later."
		case "per_ip":
			message = "IP rate limit exceeded. Please try again later."
		default:
			message = "Rate limit exceeded. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

// GlobalLimiter caps total request volume across all callers.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(createRateLimitHandler("global", int(cfg.GlobalWindow.Seconds()), nil, cfg.Metrics)),
	)
}

// TokenLimiter caps request volume per bearer token (X-Token header),
// falling back to IP-based limiting for anonymous requests.
func TokenLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerTokenEnabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.PerTokenLimit,
		cfg.PerTokenWindow,
		httprate.WithKeyFuncs(tokenKeyExtractor),
		httprate.WithLimitHandler(createRateLimitHandler("per_token", int(cfg.PerTokenWindow.Seconds()), extractTokenFromRequest, cfg.Metrics)),
	)
}

// IPLimiter caps request volume per client IP (fallback tier).
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(createRateLimitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), func(r *http.Request) string { return r.RemoteAddr }, cfg.Metrics)),
	)
}

func tokenKeyExtractor(r *http.Request) (string, error) {
	token := extractTokenFromRequest(r)
	if token == "" {
		return httprate.KeyByIP(r)
	}
	return "token:" + token, nil
}

// extractTokenFromRequest reads the bearer token from the X-Token header or
// a standard Authorization: Bearer header, the two auth shapes spec.md §6
// recognizes for identity-gated endpoints.
func extractTokenFromRequest(r *http.Request) string {
	if token := r.Header.Get("X-Token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return ""
}
