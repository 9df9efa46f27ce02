package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/ratelimit"
)

func TestBearerToken_XTokenHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-Token", "abc123")
	if got := bearerToken(r); got != "abc123" {
		t.Errorf("bearerToken = %q, want abc123", got)
	}
}

func TestBearerToken_AuthorizationBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer xyz789")
	if got := bearerToken(r); got != "xyz789" {
		t.Errorf("bearerToken = %q, want xyz789", got)
	}
}

func TestBearerToken_L402NotTreatedAsBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "L402 abc:def")
	if got := bearerToken(r); got != "" {
		t.Errorf("bearerToken = %q, want empty for L402 auth", got)
	}
}

func TestApplyRewrites_CapsMaxOutputTokens(t *testing.T) {
	body := []byte(`{"max_output_tokens":10000,"model":"big"}`)
	mp := config.ModelPrice{MaxOutputTokens: 500}
	out := applyRewrites(body, mp)

	var parsed map[string]interface{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed["max_output_tokens"].(float64) != 500 {
		t.Errorf("max_output_tokens = %v, want 500", parsed["max_output_tokens"])
	}
}

func TestApplyRewrites_ForcesNToOne(t *testing.T) {
	body := []byte(`{"n":4}`)
	out := applyRewrites(body, config.ModelPrice{})

	var parsed map[string]interface{}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed["n"].(float64) != 1 {
		t.Errorf("n = %v, want 1", parsed["n"])
	}
}

func TestApplyRewrites_NoopWhenNothingToRewrite(t *testing.T) {
	body := []byte(`{"prompt":"hello"}`)
	out := applyRewrites(body, config.ModelPrice{})
	if string(out) != string(body) {
		t.Errorf("expected untouched body, got %s", out)
	}
}

func TestGate_ResolveAndPrice_UnknownAPI(t *testing.T) {
	g := &Gate{apis: map[string]config.APIConfig{}}
	_, err := g.resolveAndPrice(httptest.NewRequest(http.MethodPost, "/", nil), "missing", "/x")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestGate_ResolveAndPrice_UnknownEndpoint(t *testing.T) {
	g := &Gate{apis: map[string]config.APIConfig{
		"llm": {Endpoints: map[string]config.Endpoint{}},
	}}
	_, err := g.resolveAndPrice(httptest.NewRequest(http.MethodPost, "/", nil), "llm", "/missing")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestGate_CheckDailyCap_NoCapConfigured(t *testing.T) {
	g := &Gate{dailyCaps: ratelimit.NewDailyCapCounter()}
	if err := g.checkDailyCap("llm", "/chat", 0); err != nil {
		t.Errorf("unexpected error with no cap configured: %v", err)
	}
}

func TestGate_CheckDailyCap_RejectsOverCap(t *testing.T) {
	g := &Gate{dailyCaps: ratelimit.NewDailyCapCounter()}
	for i := 0; i < 3; i++ {
		if err := g.checkDailyCap("llm", "/chat", 3); err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
	}
	err := g.checkDailyCap("llm", "/chat", 3)
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeDailyLimitReached {
		t.Fatalf("expected daily_limit_reached on 4th call, got %v", err)
	}
}
