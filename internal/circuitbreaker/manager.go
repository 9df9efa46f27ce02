// Package circuitbreaker provides per-external-service circuit breaking
// (spec.md's bulkhead-isolated Lightning/Upstream/Webhook buckets),
// grounded on the teacher's bulkhead-per-service breaker registry.
package circuitbreaker

import (
	"time"

	"github.com/l402gate/server/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ServiceType identifies an external service for breaker isolation.
type ServiceType string

const (
	ServiceLightning ServiceType = "lightning"
	ServiceUpstream  ServiceType = "upstream"
	ServiceWebhook   ServiceType = "webhook"
)

// Manager manages circuit breakers for external services. Each service has
// its own breaker so a tripped Lightning node doesn't also reject upstream
// AI-provider calls.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig builds a Manager from the gateway's YAML config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}
	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceLightning] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceLightning), toBreakerConfig(cfg.Lightning)))
	m.breakers[ServiceUpstream] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceUpstream), toBreakerConfig(cfg.Upstream)))
	m.breakers[ServiceWebhook] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceWebhook), toBreakerConfig(cfg.Webhook)))
	return m
}

func toBreakerConfig(c config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval.Duration,
		Timeout:             c.Timeout.Duration,
		ConsecutiveFailures: c.ConsecutiveFailures,
		FailureRatio:        c.FailureRatio,
		MinRequests:         c.MinRequests,
	}
}

// Execute wraps fn with circuit-breaker protection for the given service.
// If breakers are disabled or the service has none registered, fn runs
// directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State returns the breaker's current state, or "disabled"/"not_configured".
func (m *Manager) State(service ServiceType) string {
	if !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
}
