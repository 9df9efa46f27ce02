package lightning

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(config.PhoenixConfig{URL: srv.URL, PasswordEnv: "LIGHTNING_TEST_PASSWORD"})
	return c, srv
}

func TestCreateInvoice_Success(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/createinvoice" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"paymentHash":"AABBCC","serialized":"lnbc1..."}`))
	})
	defer srv.Close()

	inv, err := c.CreateInvoice(context.Background(), 100, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.PaymentHash != "aabbcc" {
		t.Errorf("expected canonicalized hash, got %s", inv.PaymentHash)
	}
	if inv.SerializedBolt11 != "lnbc1..." {
		t.Errorf("unexpected bolt11: %s", inv.SerializedBolt11)
	}
}

func TestCreateInvoice_NonTwoXX(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	defer srv.Close()

	_, err := c.CreateInvoice(context.Background(), 100, "test")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := apierr.As(err)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Code != apierr.CodePhoenixUnavailable {
		t.Errorf("expected phoenix_unavailable, got %s", apiErr.Code)
	}
}

func TestPayInvoice_Success(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"paymentPreimage":"deadbeef","paymentHash":"AABBCC","routingFeeSat":1}`))
	})
	defer srv.Close()

	res, err := c.PayInvoice(context.Background(), "lnbc1...")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Preimage != "deadbeef" {
		t.Errorf("unexpected preimage: %s", res.Preimage)
	}
	if res.PaymentHash != "aabbcc" {
		t.Errorf("unexpected hash: %s", res.PaymentHash)
	}
	if res.FeesSats != 1 {
		t.Errorf("unexpected fees: %d", res.FeesSats)
	}
}

func TestGetBalance_Success(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getbalance" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"balanceSat":5000}`))
	})
	defer srv.Close()

	balance, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 5000 {
		t.Errorf("balance = %d, want 5000", balance)
	}
}

func TestDo_TransportFailureSurfacesAsPhoenixUnavailable(t *testing.T) {
	c := New(config.PhoenixConfig{URL: "http://127.0.0.1:1", PasswordEnv: "LIGHTNING_TEST_PASSWORD"})

	_, err := c.CreateInvoice(context.Background(), 100, "test")
	if err == nil {
		t.Fatal("expected error connecting to unreachable node")
	}
	apiErr, ok := apierr.As(err)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Code != apierr.CodePhoenixUnavailable {
		t.Errorf("expected phoenix_unavailable, got %s", apiErr.Code)
	}
}
