package observability

import (
	"context"
	"time"
)

// Hook is the base interface for all observability hooks.
// Implementations can emit events to Grafana, DataDog, OpenTelemetry, etc.
type Hook interface {
	// Name returns the hook's identifier for logging/debugging
	Name() string
}

// L402Hook receives events from the payment-gate's challenge/redeem cycle.
type L402Hook interface {
	Hook

	// OnChallengeIssued is called when a 402 challenge is minted for a request.
	OnChallengeIssued(ctx context.Context, event ChallengeIssuedEvent)

	// OnL402Redeemed is called once a presented macaroon+preimage pair has
	// been verified (or rejected) against the used-hash set.
	OnL402Redeemed(ctx context.Context, event L402RedeemedEvent)

	// OnDebitSettled is called after a prepaid-account debit attempt.
	OnDebitSettled(ctx context.Context, event DebitSettledEvent)
}

// LightningHook receives events from outbound calls to the Lightning node.
type LightningHook interface {
	Hook

	// OnInvoiceCreated is called after a Lightning invoice is minted.
	OnInvoiceCreated(ctx context.Context, event InvoiceCreatedEvent)

	// OnInvoiceSettled is called once the node confirms an invoice paid.
	OnInvoiceSettled(ctx context.Context, event InvoiceSettledEvent)
}

// TopupHook receives events from the account top-up flow.
type TopupHook interface {
	Hook

	// OnTopupCreated is called when a top-up invoice is generated.
	OnTopupCreated(ctx context.Context, event TopupCreatedEvent)

	// OnTopupClaimed is called when a settled top-up is credited to an account.
	OnTopupClaimed(ctx context.Context, event TopupClaimedEvent)
}

// HireHook receives events from the marketplace task/quote/delivery lifecycle.
type HireHook interface {
	Hook

	// OnQuoteAccepted is called when accepting a quote locks escrow.
	OnQuoteAccepted(ctx context.Context, event QuoteAcceptedEvent)

	// OnDeliveryConfirmed is called when confirming a delivery releases escrow.
	OnDeliveryConfirmed(ctx context.Context, event DeliveryConfirmedEvent)
}

// WebhookHook receives events during outbound webhook delivery (e.g.
// notifying an integration that a top-up settled or a delivery was confirmed).
type WebhookHook interface {
	Hook

	// OnWebhookQueued is called when a webhook is added to the delivery queue.
	OnWebhookQueued(ctx context.Context, event WebhookQueuedEvent)

	// OnWebhookDelivered is called when a webhook is successfully delivered.
	OnWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent)

	// OnWebhookFailed is called when a webhook delivery fails.
	OnWebhookFailed(ctx context.Context, event WebhookFailedEvent)

	// OnWebhookRetried is called when a webhook is scheduled for retry.
	OnWebhookRetried(ctx context.Context, event WebhookRetriedEvent)
}

// DatabaseHook receives events from database operations.
type DatabaseHook interface {
	Hook

	// OnDatabaseQuery is called for database queries.
	OnDatabaseQuery(ctx context.Context, event DatabaseQueryEvent)
}

// ===============================================
// Event Types
// ===============================================

// ChallengeIssuedEvent is emitted when a 402 challenge is minted.
type ChallengeIssuedEvent struct {
	Timestamp   time.Time
	API         string
	Endpoint    string
	PriceSats   int64
	PaymentHash string
}

// L402RedeemedEvent is emitted once a presented macaroon+preimage has been
// checked against the signer and the used-hash set.
type L402RedeemedEvent struct {
	Timestamp   time.Time
	API         string
	Endpoint    string
	PaymentHash string
	Outcome     string // "accepted", "replayed", "invalid_macaroon", "invalid_preimage"
	AccountID   string // set when the macaroon carries an account caveat
}

// DebitSettledEvent is emitted after attempting to debit a prepaid account.
type DebitSettledEvent struct {
	Timestamp    time.Time
	AccountID    string
	Endpoint     string
	AmountSats   int64
	Success      bool
	BalanceAfter int64
}

// InvoiceCreatedEvent is emitted after minting a Lightning invoice, whether
// for per-request payment or an account top-up.
type InvoiceCreatedEvent struct {
	Timestamp   time.Time
	PaymentHash string
	AmountSats  int64
	Purpose     string // "request", "topup"
	ExpiresAt   time.Time
}

// InvoiceSettledEvent is emitted once the node confirms an invoice paid.
type InvoiceSettledEvent struct {
	Timestamp   time.Time
	PaymentHash string
	AmountSats  int64
	Purpose     string
	Duration    time.Duration // time from creation to settlement
}

// TopupCreatedEvent is emitted when a top-up invoice is generated.
type TopupCreatedEvent struct {
	Timestamp   time.Time
	PaymentHash string
	AmountSats  int64
	HasToken    bool // true if the caller supplied an existing account token
}

// TopupClaimedEvent is emitted when a settled top-up is credited.
type TopupClaimedEvent struct {
	Timestamp    time.Time
	AccountID    string
	AmountSats   int64
	BalanceAfter int64
}

// QuoteAcceptedEvent is emitted when accepting a quote locks escrow.
type QuoteAcceptedEvent struct {
	Timestamp time.Time
	TaskID    string
	QuoteID   string
	BuyerID   string
	SellerID  string
	PriceSats int64
}

// DeliveryConfirmedEvent is emitted when confirming a delivery releases escrow.
type DeliveryConfirmedEvent struct {
	Timestamp  time.Time
	TaskID     string
	DeliveryID string
	SellerID   string
	PriceSats  int64
}

// WebhookQueuedEvent is emitted when a webhook is added to the delivery queue.
type WebhookQueuedEvent struct {
	Timestamp time.Time
	WebhookID string
	EventType string // "topup.settled", "hire.delivery_confirmed", etc.
	URL       string
	EventID   string // idempotency key for the webhook event
}

// WebhookDeliveredEvent is emitted when a webhook is successfully delivered.
type WebhookDeliveredEvent struct {
	Timestamp  time.Time
	WebhookID  string
	EventType  string
	URL        string
	EventID    string
	Attempts   int
	Duration   time.Duration
	StatusCode int
}

// WebhookFailedEvent is emitted when a webhook delivery fails.
type WebhookFailedEvent struct {
	Timestamp    time.Time
	WebhookID    string
	EventType    string
	URL          string
	EventID      string
	Attempts     int
	Error        string
	FinalFailure bool // true if all retries exhausted and the event went to the DLQ
}

// WebhookRetriedEvent is emitted when a webhook is scheduled for retry.
type WebhookRetriedEvent struct {
	Timestamp      time.Time
	WebhookID      string
	EventType      string
	URL            string
	EventID        string
	CurrentAttempt int
	MaxAttempts    int
	NextRetryAt    time.Time
	BackoffSeconds float64
}

// DatabaseQueryEvent is emitted for database operations.
type DatabaseQueryEvent struct {
	Timestamp time.Time
	Operation string // "get", "list", "save", "delete", etc.
	Backend   string // "postgres", "memory"
	Duration  time.Duration
	Success   bool
	Error     string
}
