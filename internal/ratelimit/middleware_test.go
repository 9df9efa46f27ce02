package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.GlobalEnabled {
		t.Error("expected global rate limiting to be enabled by default")
	}
	if cfg.GlobalLimit != 1000 {
		t.Errorf("expected global limit 1000, got %d", cfg.GlobalLimit)
	}
	if !cfg.PerTokenEnabled {
		t.Error("expected per-token rate limiting to be enabled by default")
	}
	if cfg.PerTokenLimit != 120 {
		t.Errorf("expected per-token limit 120, got %d", cfg.PerTokenLimit)
	}
	if !cfg.PerIPEnabled {
		t.Error("expected per-IP rate limiting to be enabled by default")
	}
}

func TestGlobalLimiterDisabled(t *testing.T) {
	cfg := Config{GlobalEnabled: false}
	limiter := GlobalLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestGlobalLimiterEnforcesLimit(t *testing.T) {
	cfg := Config{
		GlobalEnabled: true,
		GlobalLimit:   5,
		GlobalWindow:  time.Second,
	}
	limiter := GlobalLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after limit exceeded, got %d", w.Code)
	}
}

func TestTokenLimiterEnforcesPerTokenLimit(t *testing.T) {
	cfg := Config{
		PerTokenEnabled: true,
		PerTokenLimit:   3,
		PerTokenWindow:  time.Second,
	}
	limiter := TokenLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Token", "abl_sometoken")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Token", "abl_sometoken")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after per-token limit, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Token", "abl_othertoken")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("different token: expected 200, got %d", w.Code)
	}
}

func TestExtractTokenFromRequest(t *testing.T) {
	tests := []struct {
		name         string
		setupRequest func(*http.Request)
		want         string
	}{
		{
			name:         "X-Token header",
			setupRequest: func(r *http.Request) { r.Header.Set("X-Token", "abl_fromheader") },
			want:         "abl_fromheader",
		},
		{
			name:         "Authorization Bearer header",
			setupRequest: func(r *http.Request) { r.Header.Set("Authorization", "Bearer abl_frombearer") },
			want:         "abl_frombearer",
		},
		{
			name:         "X-Token priority over Authorization",
			setupRequest: func(r *http.Request) {
				r.Header.Set("X-Token", "abl_priority")
				r.Header.Set("Authorization", "Bearer abl_secondary")
			},
			want: "abl_priority",
		},
		{
			name:         "no token present",
			setupRequest: func(r *http.Request) {},
			want:         "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			tt.setupRequest(req)

			got := extractTokenFromRequest(req)
			if got != tt.want {
				t.Errorf("expected token %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIPLimiterEnforcesLimit(t *testing.T) {
	cfg := Config{
		PerIPEnabled: true,
		PerIPLimit:   3,
		PerIPWindow:  time.Second,
	}
	limiter := IPLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ip := "192.168.1.100:54321"

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = ip
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = ip
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after IP limit, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.101:54321"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("different IP: expected 200, got %d", w.Code)
	}
}
