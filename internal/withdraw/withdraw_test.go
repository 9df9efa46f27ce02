package withdraw

import (
	"context"
	"testing"

	"github.com/l402gate/server/internal/apierr"
)

func TestCollect_RejectsNonPositiveAmount(t *testing.T) {
	f := &Flow{}
	_, err := f.Collect(context.Background(), "acct_1", 0, "lnbc1...")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestCollect_RejectsEmptyInvoice(t *testing.T) {
	f := &Flow{}
	_, err := f.Collect(context.Background(), "acct_1", 100, "")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}
