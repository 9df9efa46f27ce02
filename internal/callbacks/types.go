package callbacks

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/httputil"
)

// Notifier delivers gateway-side events to user-configured webhook endpoints.
type Notifier interface {
	TopupSettled(ctx context.Context, event TopupSettledEvent)
	DeliveryConfirmed(ctx context.Context, event DeliveryConfirmedEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) TopupSettled(context.Context, TopupSettledEvent)             {}
func (NoopNotifier) DeliveryConfirmed(context.Context, DeliveryConfirmedEvent)   {}

// TopupSettledEvent notifies an integration that a top-up invoice was paid
// and credited to an account.
// IMPORTANT: EventID is the idempotency key - webhook consumers MUST use this to prevent duplicate processing.
type TopupSettledEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"` // always "topup.settled"
	EventTimestamp time.Time `json:"eventTimestamp"`

	AccountID    string `json:"accountId"`
	Token        string `json:"token,omitempty"` // present only on first top-up for a new account
	PaymentHash  string `json:"paymentHash"`
	AmountSats   int64  `json:"amountSats"`
	BalanceAfter int64  `json:"balanceAfterSats"`
	SettledAt    time.Time `json:"settledAt"`
}

// DeliveryConfirmedEvent notifies an integration that a marketplace delivery
// was confirmed and escrow released to the seller.
// IMPORTANT: EventID is the idempotency key - webhook consumers MUST use this to prevent duplicate processing.
type DeliveryConfirmedEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"` // always "hire.delivery_confirmed"
	EventTimestamp time.Time `json:"eventTimestamp"`

	TaskID      string    `json:"taskId"`
	DeliveryID  string    `json:"deliveryId"`
	SellerID    string    `json:"sellerId"`
	BuyerID     string    `json:"buyerId"`
	PriceSats   int64     `json:"priceSats"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// ErrCallbackDisabled is returned when no URL is configured for an event type.
var ErrCallbackDisabled = errors.New("callbacks: disabled")

// generateEventID creates a unique event identifier for idempotency.
// Format: "evt_" + 24 hex characters (12 random bytes)
func generateEventID() string {
	randomBytes := make([]byte, 12)
	if _, err := rand.Read(randomBytes); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails (extremely rare)
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(randomBytes)
}

// prepareEventFields sets common idempotency fields for webhook events.
func prepareEventFields(eventID *string, eventType *string, eventTimestamp *time.Time, defaultEventType string) {
	if *eventID == "" {
		*eventID = generateEventID()
	}
	if *eventType == "" {
		*eventType = defaultEventType
	}
	if eventTimestamp.IsZero() {
		*eventTimestamp = time.Now().UTC()
	}
}

// PrepareTopupSettledEvent ensures TopupSettledEvent has required idempotency
// fields set. If EventID is already set, it's preserved (for retries).
func PrepareTopupSettledEvent(event *TopupSettledEvent) {
	prepareEventFields(&event.EventID, &event.EventType, &event.EventTimestamp, "topup.settled")
	if event.SettledAt.IsZero() {
		event.SettledAt = time.Now().UTC()
	}
}

// PrepareDeliveryConfirmedEvent ensures DeliveryConfirmedEvent has required
// idempotency fields set.
func PrepareDeliveryConfirmedEvent(event *DeliveryConfirmedEvent) {
	prepareEventFields(&event.EventID, &event.EventType, &event.EventTimestamp, "hire.delivery_confirmed")
	if event.ConfirmedAt.IsZero() {
		event.ConfirmedAt = time.Now().UTC()
	}
}

// SendOnce POSTs a single event to the URL configured for eventType without
// retry logic.
func SendOnce(ctx context.Context, cfg config.CallbacksConfig, eventType string, payload interface{}) error {
	url := cfg.URLs[eventType]
	if url == "" {
		return ErrCallbackDisabled
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := httputil.NewClient(timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	contentType := cfg.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)

	for k, v := range cfg.Headers {
		if k == "" || k == "Content-Type" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, url)
	}

	return nil
}
