package callbacks

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateEventID(t *testing.T) {
	// Generate multiple event IDs
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := generateEventID()

		// Check format: "evt_" + 24 hex chars
		if !strings.HasPrefix(id, "evt_") {
			t.Errorf("EventID missing 'evt_' prefix: %s", id)
		}

		hexPart := strings.TrimPrefix(id, "evt_")
		if len(hexPart) != 24 {
			t.Errorf("EventID hex part wrong length (expected 24, got %d): %s", len(hexPart), id)
		}

		// Check for hex characters only
		for _, c := range hexPart {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
				t.Errorf("EventID contains non-hex character '%c': %s", c, id)
			}
		}

		// Check uniqueness
		if ids[id] {
			t.Errorf("Duplicate EventID generated: %s", id)
		}
		ids[id] = true
	}

	// Verify we generated 1000 unique IDs
	if len(ids) != 1000 {
		t.Errorf("Expected 1000 unique IDs, got %d", len(ids))
	}
}

func TestPrepareTopupSettledEvent(t *testing.T) {
	tests := []struct {
		name  string
		event TopupSettledEvent
		check func(t *testing.T, event TopupSettledEvent)
	}{
		{
			name:  "generates event ID when missing",
			event: TopupSettledEvent{AccountID: "acct_test"},
			check: func(t *testing.T, event TopupSettledEvent) {
				if event.EventID == "" {
					t.Error("EventID not generated")
				}
				if !strings.HasPrefix(event.EventID, "evt_") {
					t.Errorf("EventID has wrong format: %s", event.EventID)
				}
			},
		},
		{
			name:  "preserves existing event ID",
			event: TopupSettledEvent{EventID: "evt_existing123", AccountID: "acct_test"},
			check: func(t *testing.T, event TopupSettledEvent) {
				if event.EventID != "evt_existing123" {
					t.Errorf("EventID changed from evt_existing123 to %s", event.EventID)
				}
			},
		},
		{
			name:  "sets event type to topup.settled",
			event: TopupSettledEvent{AccountID: "acct_test"},
			check: func(t *testing.T, event TopupSettledEvent) {
				if event.EventType != "topup.settled" {
					t.Errorf("EventType = %s, want topup.settled", event.EventType)
				}
			},
		},
		{
			name:  "preserves existing event type",
			event: TopupSettledEvent{EventType: "custom.event", AccountID: "acct_test"},
			check: func(t *testing.T, event TopupSettledEvent) {
				if event.EventType != "custom.event" {
					t.Errorf("EventType changed from custom.event to %s", event.EventType)
				}
			},
		},
		{
			name:  "sets event timestamp when missing",
			event: TopupSettledEvent{AccountID: "acct_test"},
			check: func(t *testing.T, event TopupSettledEvent) {
				if event.EventTimestamp.IsZero() {
					t.Error("EventTimestamp not set")
				}
				// Should be recent (within last second)
				if time.Since(event.EventTimestamp) > time.Second {
					t.Errorf("EventTimestamp too old: %v", event.EventTimestamp)
				}
			},
		},
		{
			name: "preserves existing event timestamp",
			event: TopupSettledEvent{
				EventTimestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				AccountID:      "acct_test",
			},
			check: func(t *testing.T, event TopupSettledEvent) {
				expected := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
				if !event.EventTimestamp.Equal(expected) {
					t.Errorf("EventTimestamp changed from %v to %v", expected, event.EventTimestamp)
				}
			},
		},
		{
			name:  "sets settled at when missing",
			event: TopupSettledEvent{AccountID: "acct_test"},
			check: func(t *testing.T, event TopupSettledEvent) {
				if event.SettledAt.IsZero() {
					t.Error("SettledAt not set")
				}
			},
		},
		{
			name: "preserves existing settled at",
			event: TopupSettledEvent{
				SettledAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
				AccountID: "acct_test",
			},
			check: func(t *testing.T, event TopupSettledEvent) {
				expected := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
				if !event.SettledAt.Equal(expected) {
					t.Errorf("SettledAt changed from %v to %v", expected, event.SettledAt)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			PrepareTopupSettledEvent(&tt.event)
			tt.check(t, tt.event)
		})
	}
}

func TestPrepareDeliveryConfirmedEvent(t *testing.T) {
	tests := []struct {
		name  string
		event DeliveryConfirmedEvent
		check func(t *testing.T, event DeliveryConfirmedEvent)
	}{
		{
			name:  "generates event ID when missing",
			event: DeliveryConfirmedEvent{DeliveryID: "delivery-123"},
			check: func(t *testing.T, event DeliveryConfirmedEvent) {
				if event.EventID == "" {
					t.Error("EventID not generated")
				}
				if !strings.HasPrefix(event.EventID, "evt_") {
					t.Errorf("EventID has wrong format: %s", event.EventID)
				}
			},
		},
		{
			name:  "preserves existing event ID",
			event: DeliveryConfirmedEvent{EventID: "evt_delivery_abc", DeliveryID: "delivery-123"},
			check: func(t *testing.T, event DeliveryConfirmedEvent) {
				if event.EventID != "evt_delivery_abc" {
					t.Errorf("EventID changed from evt_delivery_abc to %s", event.EventID)
				}
			},
		},
		{
			name:  "sets event type to hire.delivery_confirmed",
			event: DeliveryConfirmedEvent{DeliveryID: "delivery-123"},
			check: func(t *testing.T, event DeliveryConfirmedEvent) {
				if event.EventType != "hire.delivery_confirmed" {
					t.Errorf("EventType = %s, want hire.delivery_confirmed", event.EventType)
				}
			},
		},
		{
			name:  "sets event timestamp when missing",
			event: DeliveryConfirmedEvent{DeliveryID: "delivery-123"},
			check: func(t *testing.T, event DeliveryConfirmedEvent) {
				if event.EventTimestamp.IsZero() {
					t.Error("EventTimestamp not set")
				}
			},
		},
		{
			name:  "sets confirmed at when missing",
			event: DeliveryConfirmedEvent{DeliveryID: "delivery-123"},
			check: func(t *testing.T, event DeliveryConfirmedEvent) {
				if event.ConfirmedAt.IsZero() {
					t.Error("ConfirmedAt not set")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			PrepareDeliveryConfirmedEvent(&tt.event)
			tt.check(t, tt.event)
		})
	}
}

func TestIdempotencyAcrossRetries(t *testing.T) {
	// Simulate the same event being prepared multiple times (as would happen in retries)
	event := TopupSettledEvent{
		AccountID:   "acct_test",
		PaymentHash: "deadbeef",
	}

	// First preparation (initial send)
	PrepareTopupSettledEvent(&event)
	firstEventID := event.EventID
	firstTimestamp := event.EventTimestamp

	if firstEventID == "" {
		t.Fatal("First preparation did not generate EventID")
	}

	// Simulate retry - prepare the SAME event again
	PrepareTopupSettledEvent(&event)
	secondEventID := event.EventID
	secondTimestamp := event.EventTimestamp

	// EventID MUST be preserved across retries
	if secondEventID != firstEventID {
		t.Errorf("EventID changed on retry: %s → %s (BREAKS IDEMPOTENCY!)", firstEventID, secondEventID)
	}

	// Timestamp MUST be preserved across retries
	if !secondTimestamp.Equal(firstTimestamp) {
		t.Errorf("EventTimestamp changed on retry: %v → %v", firstTimestamp, secondTimestamp)
	}
}

func TestMultipleEventsGetUniqueIDs(t *testing.T) {
	// Generate 100 different topup events
	eventIDs := make(map[string]bool)

	for i := 0; i < 100; i++ {
		event := TopupSettledEvent{
			AccountID:   "acct_test",
			PaymentHash: "deadbeef",
		}
		PrepareTopupSettledEvent(&event)

		// Each event should get a unique ID
		if eventIDs[event.EventID] {
			t.Errorf("Duplicate EventID generated: %s", event.EventID)
		}
		eventIDs[event.EventID] = true
	}

	if len(eventIDs) != 100 {
		t.Errorf("Expected 100 unique event IDs, got %d", len(eventIDs))
	}
}

func BenchmarkGenerateEventID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = generateEventID()
	}
}

func BenchmarkPrepareTopupSettledEvent(b *testing.B) {
	for i := 0; i < b.N; i++ {
		event := TopupSettledEvent{AccountID: "acct_test"}
		PrepareTopupSettledEvent(&event)
	}
}
