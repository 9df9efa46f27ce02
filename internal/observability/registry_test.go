package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// Mock hook implementations for testing

type mockL402Hook struct {
	mu             sync.Mutex
	challenges     []ChallengeIssuedEvent
	redemptions    []L402RedeemedEvent
	debits         []DebitSettledEvent
	shouldPanic    bool
}

func (h *mockL402Hook) Name() string { return "mock_l402" }

func (h *mockL402Hook) OnChallengeIssued(ctx context.Context, event ChallengeIssuedEvent) {
	if h.shouldPanic {
		panic("intentional panic for testing")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.challenges = append(h.challenges, event)
}

func (h *mockL402Hook) OnL402Redeemed(ctx context.Context, event L402RedeemedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redemptions = append(h.redemptions, event)
}

func (h *mockL402Hook) OnDebitSettled(ctx context.Context, event DebitSettledEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debits = append(h.debits, event)
}

func (h *mockL402Hook) challengeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.challenges)
}

func (h *mockL402Hook) redemptionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redemptions)
}

type mockWebhookHook struct {
	mu              sync.Mutex
	queuedEvents    []WebhookQueuedEvent
	deliveredEvents []WebhookDeliveredEvent
	failedEvents    []WebhookFailedEvent
	retriedEvents   []WebhookRetriedEvent
}

func (h *mockWebhookHook) Name() string { return "mock_webhook" }

func (h *mockWebhookHook) OnWebhookQueued(ctx context.Context, event WebhookQueuedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queuedEvents = append(h.queuedEvents, event)
}

func (h *mockWebhookHook) OnWebhookDelivered(ctx context.Context, event WebhookDeliveredEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliveredEvents = append(h.deliveredEvents, event)
}

func (h *mockWebhookHook) OnWebhookFailed(ctx context.Context, event WebhookFailedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failedEvents = append(h.failedEvents, event)
}

func (h *mockWebhookHook) OnWebhookRetried(ctx context.Context, event WebhookRetriedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retriedEvents = append(h.retriedEvents, event)
}

func (h *mockWebhookHook) deliveredCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.deliveredEvents)
}

// Tests

func TestRegistry_RegisterAndEmitL402(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	hook := &mockL402Hook{}
	registry.RegisterL402Hook(hook)

	ctx := context.Background()

	registry.EmitChallengeIssued(ctx, ChallengeIssuedEvent{
		Timestamp:   time.Now(),
		API:         "openai",
		Endpoint:    "/v1/chat/completions",
		PriceSats:   10,
		PaymentHash: "abc123",
	})

	if hook.challengeCount() != 1 {
		t.Errorf("expected 1 challenge event, got %d", hook.challengeCount())
	}

	registry.EmitL402Redeemed(ctx, L402RedeemedEvent{
		Timestamp:   time.Now(),
		API:         "openai",
		Endpoint:    "/v1/chat/completions",
		PaymentHash: "abc123",
		Outcome:     "accepted",
	})

	if hook.redemptionCount() != 1 {
		t.Errorf("expected 1 redemption event, got %d", hook.redemptionCount())
	}
}

func TestRegistry_MultipleHooks(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	hook1 := &mockL402Hook{}
	hook2 := &mockL402Hook{}

	registry.RegisterL402Hook(hook1)
	registry.RegisterL402Hook(hook2)

	ctx := context.Background()
	event := ChallengeIssuedEvent{
		Timestamp: time.Now(),
		API:       "anthropic",
		Endpoint:  "/v1/messages",
	}

	registry.EmitChallengeIssued(ctx, event)

	if hook1.challengeCount() != 1 {
		t.Errorf("hook1: expected 1 challenge event, got %d", hook1.challengeCount())
	}
	if hook2.challengeCount() != 1 {
		t.Errorf("hook2: expected 1 challenge event, got %d", hook2.challengeCount())
	}
}

func TestRegistry_PanicRecovery(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	panicHook := &mockL402Hook{shouldPanic: true}
	normalHook := &mockL402Hook{}

	registry.RegisterL402Hook(panicHook)
	registry.RegisterL402Hook(normalHook)

	ctx := context.Background()
	event := ChallengeIssuedEvent{Timestamp: time.Now(), API: "openai"}

	// Should not panic - panic should be recovered
	registry.EmitChallengeIssued(ctx, event)

	if normalHook.challengeCount() != 1 {
		t.Errorf("normal hook should still receive event after panic, got %d events", normalHook.challengeCount())
	}
}

func TestRegistry_WebhookHooks(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	hook := &mockWebhookHook{}
	registry.RegisterWebhookHook(hook)

	ctx := context.Background()

	deliveredEvent := WebhookDeliveredEvent{
		Timestamp: time.Now(),
		WebhookID: "wh_123",
		EventType: "topup.settled",
		URL:       "https://example.com/webhook",
		Attempts:  2,
		Duration:  50 * time.Millisecond,
	}
	registry.EmitWebhookDelivered(ctx, deliveredEvent)

	if hook.deliveredCount() != 1 {
		t.Errorf("expected 1 delivered event, got %d", hook.deliveredCount())
	}
}

func TestRegistry_ConcurrentEmissions(t *testing.T) {
	logger := zerolog.Nop()
	registry := NewRegistry(logger)

	hook := &mockL402Hook{}
	registry.RegisterL402Hook(hook)

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			registry.EmitChallengeIssued(ctx, ChallengeIssuedEvent{
				Timestamp: time.Now(),
				API:       "openai",
			})
		}(i)
	}

	wg.Wait()

	if hook.challengeCount() != 100 {
		t.Errorf("expected 100 challenge events, got %d", hook.challengeCount())
	}
}
