package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/httputil"
)

// BalanceSource reports the gateway's Lightning node balance in satoshis.
// Satisfied by internal/lightning.Client.
type BalanceSource interface {
	GetBalance(ctx context.Context) (sats int64, err error)
}

// BalanceMonitor periodically checks the gateway's Lightning node balance
// and sends a webhook alert when it drops below a configured threshold.
// A node that runs out of inbound liquidity can still accept top-ups but
// cannot pay out marketplace escrow, so operators need to know before it
// happens.
type BalanceMonitor struct {
	cfg        *config.Config
	source     BalanceSource
	httpClient *http.Client

	mu          sync.Mutex
	alerted     bool
	lastAlertAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// BalanceAlert contains information about a low Lightning-node balance.
type BalanceAlert struct {
	BalanceSats   int64     `json:"balanceSats"`
	ThresholdSats int64     `json:"thresholdSats"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewBalanceMonitor creates a balance monitor for the gateway's Lightning node.
func NewBalanceMonitor(cfg *config.Config, source BalanceSource) *BalanceMonitor {
	return &BalanceMonitor{
		cfg:        cfg,
		source:     source,
		httpClient: httputil.NewClient(cfg.Monitoring.Timeout.Duration),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the balance monitoring loop.
func (m *BalanceMonitor) Start(ctx context.Context) {
	if m.cfg.Monitoring.LowBalanceAlertURL == "" {
		log.Info().Msg("balance_monitor.disabled_no_url")
		return
	}

	log.Info().
		Dur("check_interval", m.cfg.Monitoring.CheckInterval.Duration).
		Int64("threshold_sats", m.cfg.Monitoring.LowBalanceThresholdSat).
		Msg("balance_monitor.started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Stop gracefully stops the balance monitoring loop.
func (m *BalanceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	log.Info().Msg("balance_monitor.stopped")
}

func (m *BalanceMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Monitoring.CheckInterval.Duration)
	defer ticker.Stop()

	m.checkBalance(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBalance(ctx)
		}
	}
}

func (m *BalanceMonitor) checkBalance(ctx context.Context) {
	balance, err := m.source.GetBalance(ctx)
	if err != nil {
		log.Error().Err(err).Msg("balance_monitor.fetch_error")
		return
	}

	log.Debug().Int64("balance_sats", balance).Msg("balance_monitor.balance_checked")

	if balance < m.cfg.Monitoring.LowBalanceThresholdSat {
		if m.shouldAlert() {
			m.sendAlert(ctx, balance)
		}
	} else {
		m.clearAlert()
	}
}

// shouldAlert returns true if we should send an alert for the node.
// We only alert once per 24 hours to avoid spam.
func (m *BalanceMonitor) shouldAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.alerted {
		return true
	}
	return time.Since(m.lastAlertAt) > 24*time.Hour
}

// clearAlert resets the alert history once the balance recovers.
func (m *BalanceMonitor) clearAlert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerted = false
}

// sendAlert sends a webhook notification about a low balance.
func (m *BalanceMonitor) sendAlert(ctx context.Context, balance int64) {
	alert := BalanceAlert{
		BalanceSats:   balance,
		ThresholdSats: m.cfg.Monitoring.LowBalanceThresholdSat,
		Timestamp:     time.Now(),
	}

	body, err := json.Marshal(map[string]any{
		"content": fmt.Sprintf(
			"⚠️ **Low Lightning node balance**\n\n"+
				"Balance: **%d sats**\n"+
				"Threshold: %d sats\n\n"+
				"Top up the node's channels to keep paying out marketplace escrow.",
			balance, m.cfg.Monitoring.LowBalanceThresholdSat,
		),
		"alert": alert,
	})
	if err != nil {
		log.Error().Err(err).Msg("balance_monitor.marshal_error")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Monitoring.LowBalanceAlertURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("balance_monitor.request_error")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.cfg.Monitoring.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("balance_monitor.send_error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Info().
			Int64("balance_sats", balance).
			Int("status_code", resp.StatusCode).
			Msg("balance_monitor.alert_sent")
		m.mu.Lock()
		m.alerted = true
		m.lastAlertAt = time.Now()
		m.mu.Unlock()
	} else {
		log.Warn().Int("status_code", resp.StatusCode).Msg("balance_monitor.alert_failed")
	}
}
