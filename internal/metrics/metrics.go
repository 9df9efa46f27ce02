// Package metrics exposes Prometheus counters/histograms/gauges for the
// gateway's payment and marketplace events (spec.md §8 testable properties
// are the things these metrics make observable in production).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// L402 challenge/redemption metrics
	ChallengesIssuedTotal *prometheus.CounterVec
	L402RedemptionsTotal  *prometheus.CounterVec
	ReplayRejectionsTotal prometheus.Counter

	// Ledger metrics
	DebitsTotal          *prometheus.CounterVec
	DebitAmountSatsTotal *prometheus.CounterVec
	CreditAmountSatsTotal *prometheus.CounterVec
	InsufficientBalanceTotal *prometheus.CounterVec

	// Top-up metrics
	TopupsCreatedTotal *prometheus.CounterVec
	TopupsClaimedTotal *prometheus.CounterVec

	// Marketplace (hire) metrics
	EscrowLocksTotal    *prometheus.CounterVec
	EscrowReleasesTotal prometheus.Counter
	HireAmountSatsTotal *prometheus.CounterVec

	// Upstream proxy metrics
	UpstreamRequestsTotal  *prometheus.CounterVec
	UpstreamLatency        *prometheus.HistogramVec
	UpstreamErrorsTotal    *prometheus.CounterVec
	StreamingSessionsTotal *prometheus.CounterVec

	// Rate limiting / daily cap metrics
	RateLimitHitsTotal *prometheus.CounterVec
	DailyCapHitsTotal  *prometheus.CounterVec

	// Lightning node metrics
	LightningCallsTotal   *prometheus.CounterVec
	LightningCallDuration *prometheus.HistogramVec
	NodeBalanceSats       prometheus.Gauge

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// Webhook (top-up settlement callback) metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDLQTotal     *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		ChallengesIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_challenges_issued_total",
				Help: "Total number of 402 L402 challenges issued",
			},
			[]string{"api", "endpoint"},
		),
		L402RedemptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_l402_redemptions_total",
				Help: "Total number of L402 macaroon redemptions by outcome",
			},
			[]string{"outcome"},
		),
		ReplayRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_replay_rejections_total",
				Help: "Total number of payment_already_used rejections",
			},
		),

		DebitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_debits_total",
				Help: "Total number of ledger debit attempts by outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		DebitAmountSatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_debit_amount_sats_total",
				Help: "Total sats debited from accounts",
			},
			[]string{"endpoint"},
		),
		CreditAmountSatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_credit_amount_sats_total",
				Help: "Total sats credited to accounts",
			},
			[]string{"reason"},
		),
		InsufficientBalanceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_insufficient_balance_total",
				Help: "Total number of debit attempts that failed on insufficient balance",
			},
			[]string{"endpoint"},
		),

		TopupsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_topups_created_total",
				Help: "Total number of top-up invoices created",
			},
			[]string{"has_token"},
		),
		TopupsClaimedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_topups_claimed_total",
				Help: "Total number of top-up invoices claimed, by outcome",
			},
			[]string{"outcome"},
		),

		EscrowLocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_escrow_locks_total",
				Help: "Total number of accept_quote escrow locks, by skip_debit",
			},
			[]string{"skip_debit"},
		),
		EscrowReleasesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_escrow_releases_total",
				Help: "Total number of confirm_delivery escrow releases",
			},
		),
		HireAmountSatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_hire_amount_sats_total",
				Help: "Total sats moved by marketplace escrow lock/release",
			},
			[]string{"direction"},
		),

		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Total number of requests forwarded upstream",
			},
			[]string{"api", "endpoint", "streaming"},
		),
		UpstreamLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_latency_seconds",
				Help:    "Upstream response latency (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 180},
			},
			[]string{"api", "endpoint"},
		),
		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_errors_total",
				Help: "Total number of upstream non-2xx responses or transport failures",
			},
			[]string{"api", "endpoint"},
		),
		StreamingSessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_streaming_sessions_total",
				Help: "Total number of SSE streaming passthrough sessions, by outcome",
			},
			[]string{"outcome"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),
		DailyCapHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_daily_cap_hits_total",
				Help: "Total number of per-endpoint daily call cap rejections",
			},
			[]string{"api", "endpoint"},
		),

		LightningCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_lightning_calls_total",
				Help: "Total number of Lightning node calls",
			},
			[]string{"operation", "outcome"},
		),
		LightningCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_lightning_call_duration_seconds",
				Help:    "Duration of Lightning node calls",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"operation"},
		),
		NodeBalanceSats: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_lightning_node_balance_sats",
				Help: "Most recently observed Lightning node balance in sats",
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_db_connections_active",
				Help: "Number of active database connections",
			},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhooks_total",
				Help: "Total number of top-up settlement webhook deliveries",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhook_retries_total",
				Help: "Total number of webhook retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhook_dlq_total",
				Help: "Total number of webhooks sent to the dead-letter queue",
			},
			[]string{"event_type"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_webhook_duration_seconds",
				Help:    "Time taken for webhook delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),
	}
}

// ObserveChallenge records a 402 L402 challenge issuance.
func (m *Metrics) ObserveChallenge(api, endpoint string) {
	m.ChallengesIssuedTotal.WithLabelValues(api, endpoint).Inc()
}

// ObserveL402Redemption records an L402 macaroon redemption outcome:
// "accepted", "replayed", "invalid_macaroon", or "invalid_preimage".
func (m *Metrics) ObserveL402Redemption(outcome string) {
	m.L402RedemptionsTotal.WithLabelValues(outcome).Inc()
	if outcome == "replayed" {
		m.ReplayRejectionsTotal.Inc()
	}
}

// ObserveDebit records a ledger debit attempt.
func (m *Metrics) ObserveDebit(endpoint string, amountSats int64, success bool) {
	outcome := "success"
	if !success {
		outcome = "insufficient_balance"
		m.InsufficientBalanceTotal.WithLabelValues(endpoint).Inc()
	}
	m.DebitsTotal.WithLabelValues(endpoint, outcome).Inc()
	if success {
		m.DebitAmountSatsTotal.WithLabelValues(endpoint).Add(float64(amountSats))
	}
}

// ObserveCredit records a ledger credit.
func (m *Metrics) ObserveCredit(reason string, amountSats int64) {
	m.CreditAmountSatsTotal.WithLabelValues(reason).Add(float64(amountSats))
}

// ObserveTopupCreated records a top-up invoice creation.
func (m *Metrics) ObserveTopupCreated(hasToken bool) {
	m.TopupsCreatedTotal.WithLabelValues(boolLabel(hasToken)).Inc()
}

// ObserveTopupClaimed records a top-up claim outcome.
func (m *Metrics) ObserveTopupClaimed(outcome string) {
	m.TopupsClaimedTotal.WithLabelValues(outcome).Inc()
}

// ObserveEscrowLock records an accept_quote escrow lock.
func (m *Metrics) ObserveEscrowLock(skipDebit bool, priceSats int64) {
	m.EscrowLocksTotal.WithLabelValues(boolLabel(skipDebit)).Inc()
	m.HireAmountSatsTotal.WithLabelValues("lock").Add(float64(priceSats))
}

// ObserveEscrowRelease records a confirm_delivery escrow release.
func (m *Metrics) ObserveEscrowRelease(priceSats int64) {
	m.EscrowReleasesTotal.Inc()
	m.HireAmountSatsTotal.WithLabelValues("release").Add(float64(priceSats))
}

// ObserveUpstreamCall records a forwarded upstream request.
func (m *Metrics) ObserveUpstreamCall(api, endpoint string, streaming bool, duration time.Duration, err error) {
	m.UpstreamRequestsTotal.WithLabelValues(api, endpoint, boolLabel(streaming)).Inc()
	m.UpstreamLatency.WithLabelValues(api, endpoint).Observe(duration.Seconds())
	if err != nil {
		m.UpstreamErrorsTotal.WithLabelValues(api, endpoint).Inc()
	}
}

// ObserveStreamingSession records the end of an SSE passthrough session:
// "completed" or "client_disconnected".
func (m *Metrics) ObserveStreamingSession(outcome string) {
	m.StreamingSessionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDailyCapHit records a daily call cap rejection.
func (m *Metrics) ObserveDailyCapHit(api, endpoint string) {
	m.DailyCapHitsTotal.WithLabelValues(api, endpoint).Inc()
}

// ObserveLightningCall records a Lightning node call.
func (m *Metrics) ObserveLightningCall(operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.LightningCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.LightningCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveNodeBalance records the most recently observed Lightning node balance.
func (m *Metrics) ObserveNodeBalance(balanceSats int64) {
	m.NodeBalanceSats.Set(float64(balanceSats))
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveWebhook records a top-up settlement webhook delivery.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int, sentToDLQ bool) {
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}
	if sentToDLQ {
		m.WebhookDLQTotal.WithLabelValues(eventType).Inc()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
