package httpserver

import (
	"net/http"

	"github.com/l402gate/server/internal/apierr"
)

type collectRequest struct {
	AmountSats int64  `json:"amount_sats"`
	Invoice    string `json:"invoice"`
}

// collect is `POST /api/v1/collect` (spec.md §6): pays the caller's
// requested amount out to an invoice they supply.
func (h *handlers) collect(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token is required"))
		return
	}

	var req collectRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequest("invalid JSON body"))
		return
	}

	accountID, err := h.ledger.AccountIDByToken(r.Context(), token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	result, err := h.withdraw.Collect(r.Context(), accountID, req.AmountSats, req.Invoice)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment_hash": result.PaymentHash,
		"fees_sats":    result.FeesSats,
		"balance_sats": result.BalanceSats,
	})
}

// bearerTokenFromRequest reads the prepaid account token from X-Token or a
// standard Authorization: Bearer header, mirroring gateway.bearerToken.
func bearerTokenFromRequest(r *http.Request) string {
	if token := r.Header.Get("X-Token"); token != "" {
		return token
	}
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
