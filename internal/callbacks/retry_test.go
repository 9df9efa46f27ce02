package callbacks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/l402gate/server/internal/config"
	"github.com/rs/zerolog"
)

func TestRetryableClient_SuccessFirstAttempt(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.CallbacksConfig{
		URLs:    map[string]string{"topup.settled": server.URL},
		Timeout: config.Duration{Duration: 3 * time.Second},
		Retry:   config.RetryConfig{Enabled: true},
	}

	dlqStore := NewMemoryDLQStore()
	client := NewRetryableClient(cfg,
		WithRetryLogger(zerolog.Nop()),
		WithDLQStore(dlqStore),
		WithRetryConfig(RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			Multiplier:      2.0,
			Timeout:         1 * time.Second,
		}),
	)

	event := TopupSettledEvent{
		AccountID:    "acct_1",
		PaymentHash:  "abc123",
		AmountSats:   5000,
		BalanceAfter: 5000,
	}

	client.TopupSettled(context.Background(), event)
	time.Sleep(200 * time.Millisecond)

	if count := requestCount.Load(); count != 1 {
		t.Errorf("expected 1 request, got %d", count)
	}

	dlqItems, _ := dlqStore.ListFailedWebhooks(context.Background(), 100)
	if len(dlqItems) != 0 {
		t.Errorf("expected empty DLQ, got %d items", len(dlqItems))
	}
}

func TestRetryableClient_RetryAfterFailures(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusInternalServerError)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	cfg := config.CallbacksConfig{
		URLs:    map[string]string{"topup.settled": server.URL},
		Timeout: config.Duration{Duration: 3 * time.Second},
		Retry:   config.RetryConfig{Enabled: true},
	}

	dlqStore := NewMemoryDLQStore()
	client := NewRetryableClient(cfg,
		WithRetryLogger(zerolog.Nop()),
		WithDLQStore(dlqStore),
		WithRetryConfig(RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			Multiplier:      2.0,
			Timeout:         1 * time.Second,
		}),
	)

	client.TopupSettled(context.Background(), TopupSettledEvent{AccountID: "acct_1", AmountSats: 5000})

	time.Sleep(500 * time.Millisecond)

	if count := requestCount.Load(); count != 3 {
		t.Errorf("expected 3 requests, got %d", count)
	}

	dlqItems, _ := dlqStore.ListFailedWebhooks(context.Background(), 100)
	if len(dlqItems) != 0 {
		t.Errorf("expected empty DLQ, got %d items", len(dlqItems))
	}
}

func TestRetryableClient_ExhaustsRetriesAndSavesToDLQ(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := config.CallbacksConfig{
		URLs:    map[string]string{"topup.settled": server.URL},
		Timeout: config.Duration{Duration: 3 * time.Second},
		Retry:   config.RetryConfig{Enabled: true},
	}

	dlqStore := NewMemoryDLQStore()
	client := NewRetryableClient(cfg,
		WithRetryLogger(zerolog.Nop()),
		WithDLQStore(dlqStore),
		WithRetryConfig(RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			Multiplier:      2.0,
			Timeout:         1 * time.Second,
		}),
	)

	client.TopupSettled(context.Background(), TopupSettledEvent{AccountID: "acct_1", AmountSats: 5000})

	time.Sleep(500 * time.Millisecond)

	if count := requestCount.Load(); count != 3 {
		t.Errorf("expected 3 requests, got %d", count)
	}

	dlqItems, _ := dlqStore.ListFailedWebhooks(context.Background(), 100)
	if len(dlqItems) != 1 {
		t.Fatalf("expected 1 DLQ item, got %d", len(dlqItems))
	}

	dlqItem := dlqItems[0]
	if dlqItem.EventType != "topup.settled" {
		t.Errorf("expected eventType 'topup.settled', got %q", dlqItem.EventType)
	}
	if dlqItem.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", dlqItem.Attempts)
	}
	if dlqItem.URL != server.URL {
		t.Errorf("expected URL %q, got %q", server.URL, dlqItem.URL)
	}

	var savedEvent TopupSettledEvent
	if err := json.Unmarshal(dlqItem.Payload, &savedEvent); err != nil {
		t.Errorf("failed to unmarshal DLQ payload: %v", err)
	}
	if savedEvent.AccountID != "acct_1" {
		t.Errorf("expected AccountID 'acct_1', got %q", savedEvent.AccountID)
	}
}

func TestRetryableClient_DeliveryConfirmed(t *testing.T) {
	var requestCount atomic.Int32
	var receivedPayload []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		receivedPayload = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.CallbacksConfig{
		URLs:    map[string]string{"hire.delivery_confirmed": server.URL},
		Timeout: config.Duration{Duration: 3 * time.Second},
		Retry:   config.RetryConfig{Enabled: true},
	}

	client := NewRetryableClient(cfg,
		WithRetryLogger(zerolog.Nop()),
		WithRetryConfig(RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     100 * time.Millisecond,
			Multiplier:      2.0,
			Timeout:         1 * time.Second,
		}),
	)

	event := DeliveryConfirmedEvent{
		TaskID:     "task_123",
		DeliveryID: "delivery_456",
		SellerID:   "seller_abc",
		BuyerID:    "buyer_xyz",
		PriceSats:  80,
	}

	client.DeliveryConfirmed(context.Background(), event)
	time.Sleep(200 * time.Millisecond)

	if count := requestCount.Load(); count != 1 {
		t.Errorf("expected 1 request, got %d", count)
	}

	var receivedEvent DeliveryConfirmedEvent
	if err := json.Unmarshal(receivedPayload, &receivedEvent); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if receivedEvent.TaskID != "task_123" {
		t.Errorf("expected TaskID 'task_123', got %q", receivedEvent.TaskID)
	}
}

func TestRetryableClient_NoopWhenNoURLsConfigured(t *testing.T) {
	cfg := config.CallbacksConfig{
		Timeout: config.Duration{Duration: 3 * time.Second},
	}

	client := NewRetryableClient(cfg)

	if _, ok := client.(NoopNotifier); !ok {
		t.Error("NewRetryableClient() with no URLs should return NoopNotifier")
	}
}

func TestRetryableClient_ExponentialBackoff(t *testing.T) {
	var requestCount atomic.Int32
	var firstAttempt time.Time
	var lastAttempt time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		if count == 1 {
			firstAttempt = time.Now()
		}
		lastAttempt = time.Now()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := config.CallbacksConfig{
		URLs:    map[string]string{"topup.settled": server.URL},
		Timeout: config.Duration{Duration: 3 * time.Second},
		Retry:   config.RetryConfig{Enabled: true},
	}

	client := NewRetryableClient(cfg,
		WithRetryLogger(zerolog.Nop()),
		WithDLQStore(NewMemoryDLQStore()),
		WithRetryConfig(RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     500 * time.Millisecond,
			Multiplier:      2.0,
			Timeout:         1 * time.Second,
		}),
	)

	client.TopupSettled(context.Background(), TopupSettledEvent{AccountID: "acct_1"})

	time.Sleep(1 * time.Second)

	if count := requestCount.Load(); count != 3 {
		t.Errorf("expected 3 requests, got %d", count)
	}

	// With initial 50ms, multiplier 2.0: attempt 2 after 50ms, attempt 3
	// after another 100ms, so at least 150ms between first and last.
	duration := lastAttempt.Sub(firstAttempt)
	if duration < 150*time.Millisecond {
		t.Errorf("expected minimum 150ms between first and last attempt, got %v", duration)
	}
}

func TestMemoryDLQStore(t *testing.T) {
	store := NewMemoryDLQStore()
	ctx := context.Background()

	items, err := store.ListFailedWebhooks(ctx, 100)
	if err != nil {
		t.Fatalf("ListFailedWebhooks failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty store, got %d items", len(items))
	}

	webhook := FailedWebhook{
		ID:          "webhook_1",
		URL:         "http://example.com/webhook",
		Payload:     json.RawMessage(`{"test":"data"}`),
		EventType:   "topup.settled",
		Attempts:    5,
		LastError:   "connection refused",
		LastAttempt: time.Now(),
		CreatedAt:   time.Now(),
	}

	if err := store.SaveFailedWebhook(ctx, webhook); err != nil {
		t.Fatalf("SaveFailedWebhook failed: %v", err)
	}

	items, err = store.ListFailedWebhooks(ctx, 100)
	if err != nil {
		t.Fatalf("ListFailedWebhooks failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].ID != "webhook_1" {
		t.Errorf("expected ID 'webhook_1', got %q", items[0].ID)
	}

	if err := store.DeleteFailedWebhook(ctx, "webhook_1"); err != nil {
		t.Fatalf("DeleteFailedWebhook failed: %v", err)
	}

	items, err = store.ListFailedWebhooks(ctx, 100)
	if err != nil {
		t.Fatalf("ListFailedWebhooks failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty store after delete, got %d items", len(items))
	}
}

func TestFileDLQStore(t *testing.T) {
	tmpFile := t.TempDir() + "/test-dlq.json"

	store, err := NewFileDLQStore(tmpFile)
	if err != nil {
		t.Fatalf("NewFileDLQStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	webhook := FailedWebhook{
		ID:          "webhook_file_1",
		URL:         "http://example.com/webhook",
		Payload:     json.RawMessage(`{"test":"data"}`),
		EventType:   "hire.delivery_confirmed",
		Attempts:    3,
		LastError:   "timeout",
		LastAttempt: time.Now(),
		CreatedAt:   time.Now(),
	}

	if err := store.SaveFailedWebhook(ctx, webhook); err != nil {
		t.Fatalf("SaveFailedWebhook failed: %v", err)
	}

	store2, err := NewFileDLQStore(tmpFile)
	if err != nil {
		t.Fatalf("NewFileDLQStore (reload) failed: %v", err)
	}
	defer store2.Close()

	items, err := store2.ListFailedWebhooks(ctx, 100)
	if err != nil {
		t.Fatalf("ListFailedWebhooks failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 persisted item, got %d", len(items))
	}
	if items[0].ID != "webhook_file_1" {
		t.Errorf("expected ID 'webhook_file_1', got %q", items[0].ID)
	}
}

func TestNoopDLQStore(t *testing.T) {
	store := NoopDLQStore{}
	ctx := context.Background()

	webhook := FailedWebhook{ID: "test"}
	if err := store.SaveFailedWebhook(ctx, webhook); err != nil {
		t.Errorf("NoopDLQStore.SaveFailedWebhook should not error, got %v", err)
	}

	items, err := store.ListFailedWebhooks(ctx, 100)
	if err != nil {
		t.Errorf("NoopDLQStore.ListFailedWebhooks should not error, got %v", err)
	}
	if len(items) != 0 {
		t.Errorf("NoopDLQStore.ListFailedWebhooks should return empty list, got %d items", len(items))
	}

	if err := store.DeleteFailedWebhook(ctx, "test"); err != nil {
		t.Errorf("NoopDLQStore.DeleteFailedWebhook should not error, got %v", err)
	}
}
