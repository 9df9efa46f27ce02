package observability

import (
	"context"

	"github.com/l402gate/server/internal/metrics"
)

// PrometheusHook adapts hook events onto the Prometheus metrics collector.
// This keeps metrics.Metrics as the single source of truth for counters
// while still letting other hooks (logging, tracing) observe the same events.
type PrometheusHook struct {
	metrics *metrics.Metrics
}

// NewPrometheusHook creates a hook that emits events to Prometheus metrics.
func NewPrometheusHook(m *metrics.Metrics) *PrometheusHook {
	return &PrometheusHook{metrics: m}
}

func (h *PrometheusHook) Name() string {
	return "prometheus"
}

// ===============================================
// L402Hook Implementation
// ===============================================

func (h *PrometheusHook) OnChallengeIssued(ctx context.Context, event ChallengeIssuedEvent) {
	h.metrics.ObserveChallenge(event.API, event.Endpoint)
}

func (h *PrometheusHook) OnL402Redeemed(ctx context.Context, event L402RedeemedEvent) {
	h.metrics.ObserveL402Redemption(event.Outcome)
}

func (h *PrometheusHook) OnDebitSettled(ctx context.Context, event DebitSettledEvent) {
	h.metrics.ObserveDebit(event.Endpoint, event.AmountSats, event.Success)
}

// ===============================================
// LightningHook Implementation
// ===============================================

func (h *PrometheusHook) OnInvoiceCreated(ctx context.Context, event InvoiceCreatedEvent) {
	h.metrics.ObserveLightningCall("create_invoice", 0, nil)
}

func (h *PrometheusHook) OnInvoiceSettled(ctx context.Context, event InvoiceSettledEvent) {
	h.metrics.ObserveLightningCall("invoice_settled", event.Duration, nil)
}

// ===============================================
// TopupHook Implementation
// ===============================================

func (h *PrometheusHook) OnTopupCreated(ctx context.Context, event TopupCreatedEvent) {
	h.metrics.ObserveTopupCreated(event.HasToken)
}

func (h *PrometheusHook) OnTopupClaimed(ctx context.Context, event TopupClaimedEvent) {
	h.metrics.ObserveTopupClaimed("success")
	h.metrics.ObserveCredit("topup", event.AmountSats)
}

// ===============================================
// HireHook Implementation
// ===============================================

func (h *PrometheusHook) OnQuoteAccepted(ctx context.Context, event QuoteAcceptedEvent) {
	h.metrics.ObserveEscrowLock(false, event.PriceSats)
}

func (h *PrometheusHook) OnDeliveryConfirmed(ctx context.Context, event DeliveryConfirmedEvent) {
	h.metrics.ObserveEscrowRelease(event.PriceSats)
}

// ===============================================
// WebhookHook Implementation
// ===============================================

func (h *PrometheusHook) OnWebhookQueued(ctx context.Context, event WebhookQueuedEvent) {
	// Prometheus doesn't track queued events separately; delivery/failure
	// counters cover the lifecycle.
}

func (h *PrometheusHook) OnWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent) {
	h.metrics.ObserveWebhook(event.EventType, "success", event.Duration, event.Attempts, false)
}

func (h *PrometheusHook) OnWebhookFailed(ctx context.Context, event WebhookFailedEvent) {
	status := "failed"
	if !event.FinalFailure {
		status = "retry"
	}
	h.metrics.ObserveWebhook(event.EventType, status, 0, event.Attempts, event.FinalFailure)
}

func (h *PrometheusHook) OnWebhookRetried(ctx context.Context, event WebhookRetriedEvent) {
	// Retries are tracked in OnWebhookFailed.
}

// ===============================================
// DatabaseHook Implementation
// ===============================================

func (h *PrometheusHook) OnDatabaseQuery(ctx context.Context, event DatabaseQueryEvent) {
	h.metrics.ObserveDBQuery(event.Operation, event.Backend, event.Duration)
}
