package apierr

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestInsufficientBalanceDetails(t *testing.T) {
	err := InsufficientBalance(20, 80)
	if err.Code != CodeInsufficientBal {
		t.Fatalf("expected CodeInsufficientBal, got %s", err.Code)
	}
	if err.Details["balance"] != int64(20) || err.Details["required"] != int64(80) {
		t.Fatalf("unexpected details: %+v", err.Details)
	}
	if err.Code.HTTPStatus() != 402 {
		t.Fatalf("expected 402, got %d", err.Code.HTTPStatus())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(CodePhoenixUnavailable, "lightning unavailable", cause)

	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if wrapped.Code.HTTPStatus() != 503 {
		t.Fatalf("expected 503, got %d", wrapped.Code.HTTPStatus())
	}
	if !wrapped.Code.Retryable() {
		t.Fatal("expected phoenix_unavailable to be retryable")
	}
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatal("expected plain error to map to CodeInternal")
	}
	if CodeOf(NotFound("x")) != CodeNotFound {
		t.Fatal("expected NotFound to map to CodeNotFound")
	}
}

func TestWriteHTTPEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, InvalidRequest("missing field: amount_sats"))

	if rec.Code != 400 {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !contains(body, `"code":"invalid_request"`) {
		t.Fatalf("expected invalid_request code in body, got: %s", body)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
