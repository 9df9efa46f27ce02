package examples

import (
	"context"

	"github.com/l402gate/server/internal/observability"
	"github.com/rs/zerolog"
)

// LoggingHook logs all observability events using zerolog.
// Useful for debugging and development environments.
type LoggingHook struct {
	logger zerolog.Logger
}

// NewLoggingHook creates a hook that logs all events.
func NewLoggingHook(logger zerolog.Logger) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

// ===============================================
// L402Hook Implementation
// ===============================================

func (h *LoggingHook) OnChallengeIssued(ctx context.Context, event observability.ChallengeIssuedEvent) {
	h.logger.Debug().
		Str("api", event.API).
		Str("endpoint", event.Endpoint).
		Int64("price_sats", event.PriceSats).
		Str("payment_hash", event.PaymentHash).
		Msg("challenge issued")
}

func (h *LoggingHook) OnL402Redeemed(ctx context.Context, event observability.L402RedeemedEvent) {
	log := h.logger.Info()
	if event.Outcome != "accepted" {
		log = h.logger.Warn()
	}
	log.Str("api", event.API).
		Str("endpoint", event.Endpoint).
		Str("payment_hash", event.PaymentHash).
		Str("outcome", event.Outcome).
		Str("account_id", event.AccountID).
		Msg("l402 redeemed")
}

func (h *LoggingHook) OnDebitSettled(ctx context.Context, event observability.DebitSettledEvent) {
	log := h.logger.Debug()
	if !event.Success {
		log = h.logger.Warn()
	}
	log.Str("account_id", event.AccountID).
		Str("endpoint", event.Endpoint).
		Int64("amount_sats", event.AmountSats).
		Bool("success", event.Success).
		Int64("balance_after", event.BalanceAfter).
		Msg("account debit")
}

// ===============================================
// LightningHook Implementation
// ===============================================

func (h *LoggingHook) OnInvoiceCreated(ctx context.Context, event observability.InvoiceCreatedEvent) {
	h.logger.Debug().
		Str("payment_hash", event.PaymentHash).
		Int64("amount_sats", event.AmountSats).
		Str("purpose", event.Purpose).
		Time("expires_at", event.ExpiresAt).
		Msg("invoice created")
}

func (h *LoggingHook) OnInvoiceSettled(ctx context.Context, event observability.InvoiceSettledEvent) {
	h.logger.Info().
		Str("payment_hash", event.PaymentHash).
		Int64("amount_sats", event.AmountSats).
		Str("purpose", event.Purpose).
		Dur("duration", event.Duration).
		Msg("invoice settled")
}

// ===============================================
// TopupHook Implementation
// ===============================================

func (h *LoggingHook) OnTopupCreated(ctx context.Context, event observability.TopupCreatedEvent) {
	h.logger.Debug().
		Str("payment_hash", event.PaymentHash).
		Int64("amount_sats", event.AmountSats).
		Bool("has_token", event.HasToken).
		Msg("topup invoice created")
}

func (h *LoggingHook) OnTopupClaimed(ctx context.Context, event observability.TopupClaimedEvent) {
	h.logger.Info().
		Str("account_id", event.AccountID).
		Int64("amount_sats", event.AmountSats).
		Int64("balance_after", event.BalanceAfter).
		Msg("topup claimed")
}

// ===============================================
// HireHook Implementation
// ===============================================

func (h *LoggingHook) OnQuoteAccepted(ctx context.Context, event observability.QuoteAcceptedEvent) {
	h.logger.Info().
		Str("task_id", event.TaskID).
		Str("quote_id", event.QuoteID).
		Str("buyer_id", event.BuyerID).
		Str("seller_id", event.SellerID).
		Int64("price_sats", event.PriceSats).
		Msg("quote accepted, escrow locked")
}

func (h *LoggingHook) OnDeliveryConfirmed(ctx context.Context, event observability.DeliveryConfirmedEvent) {
	h.logger.Info().
		Str("task_id", event.TaskID).
		Str("delivery_id", event.DeliveryID).
		Str("seller_id", event.SellerID).
		Int64("price_sats", event.PriceSats).
		Msg("delivery confirmed, escrow released")
}

// ===============================================
// WebhookHook Implementation
// ===============================================

func (h *LoggingHook) OnWebhookQueued(ctx context.Context, event observability.WebhookQueuedEvent) {
	h.logger.Debug().
		Str("webhook_id", event.WebhookID).
		Str("event_type", event.EventType).
		Str("event_id", event.EventID).
		Str("url", event.URL).
		Msg("webhook queued")
}

func (h *LoggingHook) OnWebhookDelivered(ctx context.Context, event observability.WebhookDeliveredEvent) {
	h.logger.Info().
		Str("webhook_id", event.WebhookID).
		Str("event_type", event.EventType).
		Str("event_id", event.EventID).
		Int("attempts", event.Attempts).
		Dur("duration", event.Duration).
		Int("status_code", event.StatusCode).
		Msg("webhook delivered")
}

func (h *LoggingHook) OnWebhookFailed(ctx context.Context, event observability.WebhookFailedEvent) {
	h.logger.Warn().
		Str("webhook_id", event.WebhookID).
		Str("event_type", event.EventType).
		Str("event_id", event.EventID).
		Int("attempts", event.Attempts).
		Bool("final_failure", event.FinalFailure).
		Str("error", event.Error).
		Msg("webhook delivery failed")
}

func (h *LoggingHook) OnWebhookRetried(ctx context.Context, event observability.WebhookRetriedEvent) {
	h.logger.Debug().
		Str("webhook_id", event.WebhookID).
		Str("event_type", event.EventType).
		Int("attempt", event.CurrentAttempt).
		Int("max_attempts", event.MaxAttempts).
		Time("next_retry", event.NextRetryAt).
		Float64("backoff_seconds", event.BackoffSeconds).
		Msg("webhook scheduled for retry")
}

// ===============================================
// DatabaseHook Implementation
// ===============================================

func (h *LoggingHook) OnDatabaseQuery(ctx context.Context, event observability.DatabaseQueryEvent) {
	log := h.logger.Debug()
	if !event.Success {
		log = h.logger.Warn().Str("error", event.Error)
	}

	log.Str("operation", event.Operation).
		Str("backend", event.Backend).
		Dur("duration", event.Duration).
		Bool("success", event.Success).
		Msg("database query")
}
