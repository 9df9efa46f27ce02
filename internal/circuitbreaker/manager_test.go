package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/l402gate/server/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled: true,
		Lightning: config.BreakerServiceConfig{
			MaxRequests:         1,
			Interval:            config.Duration{Duration: time.Minute},
			Timeout:             config.Duration{Duration: time.Millisecond},
			ConsecutiveFailures: 2,
			FailureRatio:        0.5,
			MinRequests:         2,
		},
	}
}

func TestDisabledManagerPassesThrough(t *testing.T) {
	m := NewManagerFromConfig(config.CircuitBreakerConfig{Enabled: false})
	result, err := m.Execute(ServiceLightning, func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "disabled", m.State(ServiceLightning))
}

func TestUnconfiguredServicePassesThrough(t *testing.T) {
	m := NewManagerFromConfig(testConfig())
	_, err := m.Execute(ServiceUpstream, func() (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, "closed", m.State(ServiceUpstream))
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	m := NewManagerFromConfig(testConfig())
	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 2; i++ {
		_, _ = m.Execute(ServiceLightning, failing)
	}

	assert.Equal(t, "open", m.State(ServiceLightning))

	_, err := m.Execute(ServiceLightning, func() (interface{}, error) { return "ok", nil })
	require.Error(t, err)
}
