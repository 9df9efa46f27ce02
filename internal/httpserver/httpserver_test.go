package httpserver

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerTokenFromRequest_PrefersXToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Token", "acct_token")
	r.Header.Set("Authorization", "Bearer other_token")
	if got := bearerTokenFromRequest(r); got != "acct_token" {
		t.Fatalf("expected X-Token to win, got %q", got)
	}
}

func TestBearerTokenFromRequest_FallsBackToAuthorizationBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer acct_token")
	if got := bearerTokenFromRequest(r); got != "acct_token" {
		t.Fatalf("expected bearer token, got %q", got)
	}
}

func TestBearerTokenFromRequest_EmptyWhenNeitherHeaderPresent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := bearerTokenFromRequest(r); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestBearerTokenFromRequest_IgnoresNonBearerAuthorization(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "L402 macaroon=\"...\", invoice=\"...\"")
	if got := bearerTokenFromRequest(r); got != "" {
		t.Fatalf("expected empty token for an L402 header, got %q", got)
	}
}

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"ok": "yes"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"ok":"yes"`)) {
		t.Fatalf("expected encoded body, got %s", w.Body.String())
	}
}

func TestDecodeJSON_ReturnsErrorOnMalformedBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json"))
	var v map[string]string
	if err := decodeJSON(r, &v); err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
}

func TestSecurityHeadersMiddleware_SetsBaselineHeaders(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options: nosniff")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected X-Frame-Options: DENY")
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Error("expected no HSTS header on a plaintext request")
	}
}
