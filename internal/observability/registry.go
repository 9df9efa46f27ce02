package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages a collection of observability hooks.
// It safely dispatches events to all registered hooks with error handling.
type Registry struct {
	l402Hooks      []L402Hook
	lightningHooks []LightningHook
	topupHooks     []TopupHook
	hireHooks      []HireHook
	webhookHooks   []WebhookHook
	databaseHooks  []DatabaseHook
	logger         zerolog.Logger
	mu             sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// RegisterL402Hook adds an L402 hook to the registry.
func (r *Registry) RegisterL402Hook(hook L402Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.l402Hooks = append(r.l402Hooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered l402 hook")
}

// RegisterLightningHook adds a Lightning hook to the registry.
func (r *Registry) RegisterLightningHook(hook LightningHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lightningHooks = append(r.lightningHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered lightning hook")
}

// RegisterTopupHook adds a top-up hook to the registry.
func (r *Registry) RegisterTopupHook(hook TopupHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topupHooks = append(r.topupHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered topup hook")
}

// RegisterHireHook adds a marketplace hook to the registry.
func (r *Registry) RegisterHireHook(hook HireHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hireHooks = append(r.hireHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered hire hook")
}

// RegisterWebhookHook adds a webhook hook to the registry.
func (r *Registry) RegisterWebhookHook(hook WebhookHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhookHooks = append(r.webhookHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered webhook hook")
}

// RegisterDatabaseHook adds a database hook to the registry.
func (r *Registry) RegisterDatabaseHook(hook DatabaseHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.databaseHooks = append(r.databaseHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered database hook")
}

// ===============================================
// L402 Hook Dispatchers
// ===============================================

func (r *Registry) EmitChallengeIssued(ctx context.Context, event ChallengeIssuedEvent) {
	r.mu.RLock()
	hooks := r.l402Hooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnChallengeIssued", hook.Name())
			hook.OnChallengeIssued(ctx, event)
		}()
	}
}

func (r *Registry) EmitL402Redeemed(ctx context.Context, event L402RedeemedEvent) {
	r.mu.RLock()
	hooks := r.l402Hooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnL402Redeemed", hook.Name())
			hook.OnL402Redeemed(ctx, event)
		}()
	}
}

func (r *Registry) EmitDebitSettled(ctx context.Context, event DebitSettledEvent) {
	r.mu.RLock()
	hooks := r.l402Hooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnDebitSettled", hook.Name())
			hook.OnDebitSettled(ctx, event)
		}()
	}
}

// ===============================================
// Lightning Hook Dispatchers
// ===============================================

func (r *Registry) EmitInvoiceCreated(ctx context.Context, event InvoiceCreatedEvent) {
	r.mu.RLock()
	hooks := r.lightningHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnInvoiceCreated", hook.Name())
			hook.OnInvoiceCreated(ctx, event)
		}()
	}
}

func (r *Registry) EmitInvoiceSettled(ctx context.Context, event InvoiceSettledEvent) {
	r.mu.RLock()
	hooks := r.lightningHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnInvoiceSettled", hook.Name())
			hook.OnInvoiceSettled(ctx, event)
		}()
	}
}

// ===============================================
// Topup Hook Dispatchers
// ===============================================

func (r *Registry) EmitTopupCreated(ctx context.Context, event TopupCreatedEvent) {
	r.mu.RLock()
	hooks := r.topupHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnTopupCreated", hook.Name())
			hook.OnTopupCreated(ctx, event)
		}()
	}
}

func (r *Registry) EmitTopupClaimed(ctx context.Context, event TopupClaimedEvent) {
	r.mu.RLock()
	hooks := r.topupHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnTopupClaimed", hook.Name())
			hook.OnTopupClaimed(ctx, event)
		}()
	}
}

// ===============================================
// Hire Hook Dispatchers
// ===============================================

func (r *Registry) EmitQuoteAccepted(ctx context.Context, event QuoteAcceptedEvent) {
	r.mu.RLock()
	hooks := r.hireHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnQuoteAccepted", hook.Name())
			hook.OnQuoteAccepted(ctx, event)
		}()
	}
}

func (r *Registry) EmitDeliveryConfirmed(ctx context.Context, event DeliveryConfirmedEvent) {
	r.mu.RLock()
	hooks := r.hireHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnDeliveryConfirmed", hook.Name())
			hook.OnDeliveryConfirmed(ctx, event)
		}()
	}
}

// ===============================================
// Webhook Hook Dispatchers
// ===============================================

func (r *Registry) EmitWebhookQueued(ctx context.Context, event WebhookQueuedEvent) {
	r.mu.RLock()
	hooks := r.webhookHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnWebhookQueued", hook.Name())
			hook.OnWebhookQueued(ctx, event)
		}()
	}
}

func (r *Registry) EmitWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent) {
	r.mu.RLock()
	hooks := r.webhookHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnWebhookDelivered", hook.Name())
			hook.OnWebhookDelivered(ctx, event)
		}()
	}
}

func (r *Registry) EmitWebhookFailed(ctx context.Context, event WebhookFailedEvent) {
	r.mu.RLock()
	hooks := r.webhookHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnWebhookFailed", hook.Name())
			hook.OnWebhookFailed(ctx, event)
		}()
	}
}

func (r *Registry) EmitWebhookRetried(ctx context.Context, event WebhookRetriedEvent) {
	r.mu.RLock()
	hooks := r.webhookHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnWebhookRetried", hook.Name())
			hook.OnWebhookRetried(ctx, event)
		}()
	}
}

// ===============================================
// Database Hook Dispatchers
// ===============================================

func (r *Registry) EmitDatabaseQuery(ctx context.Context, event DatabaseQueryEvent) {
	r.mu.RLock()
	hooks := r.databaseHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnDatabaseQuery", hook.Name())
			hook.OnDatabaseQuery(ctx, event)
		}()
	}
}

// ===============================================
// Error Recovery
// ===============================================

// recoverPanic recovers from panics in hook implementations.
// This ensures one bad hook doesn't crash the entire system.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability hook panicked (recovered)")
	}
}
