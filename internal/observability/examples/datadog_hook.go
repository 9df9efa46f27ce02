package examples

import (
	"context"

	"github.com/l402gate/server/internal/observability"
)

// DataDogHook emits events to DataDog APM.
// This is a template implementation - requires DataDog SDK integration.
//
// To use this hook:
//  1. Import DataDog SDK: "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
//  2. Initialize DataDog tracer in main()
//  3. Register this hook with the observability registry
//
// Example integration:
//
//	import "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
//
//	func main() {
//	    tracer.Start(tracer.WithService("l402-gateway"))
//	    defer tracer.Stop()
//
//	    hook := examples.NewDataDogHook()
//	    registry.RegisterL402Hook(hook)
//	}
type DataDogHook struct {
	// Add DataDog tracer reference here when integrating
	// tracer ddtrace.Tracer
}

// NewDataDogHook creates a hook that emits events to DataDog.
func NewDataDogHook() *DataDogHook {
	return &DataDogHook{}
}

func (h *DataDogHook) Name() string {
	return "datadog"
}

// ===============================================
// L402Hook Implementation
// ===============================================

func (h *DataDogHook) OnChallengeIssued(ctx context.Context, event observability.ChallengeIssuedEvent) {
	// span, ctx := tracer.StartSpanFromContext(ctx, "l402.challenge",
	//     tracer.Tag("l402.api", event.API),
	//     tracer.Tag("l402.endpoint", event.Endpoint),
	//     tracer.Tag("l402.price_sats", event.PriceSats),
	// )
	// defer span.Finish()
}

func (h *DataDogHook) OnL402Redeemed(ctx context.Context, event observability.L402RedeemedEvent) {
	// span.SetTag("l402.outcome", event.Outcome)
	// if event.Outcome != "accepted" {
	//     span.SetTag("error", true)
	// }
}

func (h *DataDogHook) OnDebitSettled(ctx context.Context, event observability.DebitSettledEvent) {
	// Track ledger debits with amount and balance tags.
}

// ===============================================
// LightningHook Implementation
// ===============================================

func (h *DataDogHook) OnInvoiceCreated(ctx context.Context, event observability.InvoiceCreatedEvent) {
	// Track invoice creation with payment hash tag.
}

func (h *DataDogHook) OnInvoiceSettled(ctx context.Context, event observability.InvoiceSettledEvent) {
	// Track settlement latency.
}

// ===============================================
// TopupHook Implementation
// ===============================================

func (h *DataDogHook) OnTopupCreated(ctx context.Context, event observability.TopupCreatedEvent) {
	// Track top-up invoice creation.
}

func (h *DataDogHook) OnTopupClaimed(ctx context.Context, event observability.TopupClaimedEvent) {
	// Track top-up claims and resulting balances.
}

// ===============================================
// HireHook Implementation
// ===============================================

func (h *DataDogHook) OnQuoteAccepted(ctx context.Context, event observability.QuoteAcceptedEvent) {
	// Track escrow locks.
}

func (h *DataDogHook) OnDeliveryConfirmed(ctx context.Context, event observability.DeliveryConfirmedEvent) {
	// Track escrow releases.
}

// ===============================================
// WebhookHook Implementation
// ===============================================

func (h *DataDogHook) OnWebhookQueued(ctx context.Context, event observability.WebhookQueuedEvent) {
	// Similar pattern - create span with webhook metadata
}

func (h *DataDogHook) OnWebhookDelivered(ctx context.Context, event observability.WebhookDeliveredEvent) {
	// Track successful webhook delivery with status code
}

func (h *DataDogHook) OnWebhookFailed(ctx context.Context, event observability.WebhookFailedEvent) {
	// Track webhook failures with error details
}

func (h *DataDogHook) OnWebhookRetried(ctx context.Context, event observability.WebhookRetriedEvent) {
	// Track webhook retry attempts and backoff
}

// ===============================================
// DatabaseHook Implementation
// ===============================================

func (h *DataDogHook) OnDatabaseQuery(ctx context.Context, event observability.DatabaseQueryEvent) {
	// Track database query performance
}
