package examples

import (
	"context"

	"github.com/l402gate/server/internal/observability"
)

// OpenTelemetryHook emits events to OpenTelemetry traces.
// This is a template implementation - requires OpenTelemetry SDK integration.
//
// To use this hook:
//  1. Import OpenTelemetry SDK: "go.opentelemetry.io/otel"
//  2. Initialize OTEL tracer provider in main()
//  3. Register this hook with the observability registry
//
// Example integration:
//
//	import (
//	    "go.opentelemetry.io/otel"
//	    "go.opentelemetry.io/otel/exporters/jaeger"
//	    "go.opentelemetry.io/otel/sdk/trace"
//	)
//
//	func main() {
//	    exporter, _ := jaeger.New(jaeger.WithCollectorEndpoint())
//	    tp := trace.NewTracerProvider(trace.WithBatcher(exporter))
//	    otel.SetTracerProvider(tp)
//
//	    hook := examples.NewOpenTelemetryHook()
//	    registry.RegisterL402Hook(hook)
//	}
type OpenTelemetryHook struct {
	// Add OTEL tracer reference here when integrating
	// tracer trace.Tracer
}

// NewOpenTelemetryHook creates a hook that emits events to OpenTelemetry.
func NewOpenTelemetryHook() *OpenTelemetryHook {
	return &OpenTelemetryHook{}
}

func (h *OpenTelemetryHook) Name() string {
	return "opentelemetry"
}

// ===============================================
// L402Hook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnChallengeIssued(ctx context.Context, event observability.ChallengeIssuedEvent) {
	// ctx, span := h.tracer.Start(ctx, "l402.challenge",
	//     trace.WithAttributes(
	//         attribute.String("l402.api", event.API),
	//         attribute.String("l402.endpoint", event.Endpoint),
	//         attribute.Int64("l402.price_sats", event.PriceSats),
	//         attribute.String("l402.payment_hash", event.PaymentHash),
	//     ),
	// )
	// defer span.End()
}

func (h *OpenTelemetryHook) OnL402Redeemed(ctx context.Context, event observability.L402RedeemedEvent) {
	// span.SetAttributes(attribute.String("l402.outcome", event.Outcome))
	// if event.Outcome != "accepted" {
	//     span.SetStatus(codes.Error, event.Outcome)
	// }
}

func (h *OpenTelemetryHook) OnDebitSettled(ctx context.Context, event observability.DebitSettledEvent) {
	// Record a span event for the ledger debit with amount and outcome.
}

// ===============================================
// LightningHook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnInvoiceCreated(ctx context.Context, event observability.InvoiceCreatedEvent) {
	// Start a span covering invoice lifetime, keyed by payment hash.
}

func (h *OpenTelemetryHook) OnInvoiceSettled(ctx context.Context, event observability.InvoiceSettledEvent) {
	// Close the invoice span with settlement duration.
}

// ===============================================
// TopupHook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnTopupCreated(ctx context.Context, event observability.TopupCreatedEvent) {
	// Track top-up invoice creation.
}

func (h *OpenTelemetryHook) OnTopupClaimed(ctx context.Context, event observability.TopupClaimedEvent) {
	// Track top-up claim with resulting balance.
}

// ===============================================
// HireHook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnQuoteAccepted(ctx context.Context, event observability.QuoteAcceptedEvent) {
	// Span covering escrow lifetime, keyed by task ID.
}

func (h *OpenTelemetryHook) OnDeliveryConfirmed(ctx context.Context, event observability.DeliveryConfirmedEvent) {
	// Close the escrow span on release.
}

// ===============================================
// WebhookHook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnWebhookQueued(ctx context.Context, event observability.WebhookQueuedEvent) {
	// Create span for webhook queueing with event metadata
}

func (h *OpenTelemetryHook) OnWebhookDelivered(ctx context.Context, event observability.WebhookDeliveredEvent) {
	// Track successful webhook delivery with span attributes
}

func (h *OpenTelemetryHook) OnWebhookFailed(ctx context.Context, event observability.WebhookFailedEvent) {
	// Record webhook failure as error span
}

func (h *OpenTelemetryHook) OnWebhookRetried(ctx context.Context, event observability.WebhookRetriedEvent) {
	// Track retry events with backoff information
}

// ===============================================
// DatabaseHook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnDatabaseQuery(ctx context.Context, event observability.DatabaseQueryEvent) {
	// Track database queries with operation and backend
}
