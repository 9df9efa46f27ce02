package httpserver

import (
	"net/http"

	"github.com/l402gate/server/internal/apierr"
)

type createTopupRequest struct {
	AmountSats int64  `json:"amount_sats"`
	Token      string `json:"token,omitempty"`
}

// createTopup is `POST /api/v1/topup` (spec.md §6): always responds 402
// with a fresh invoice, optionally bound to an existing account's token.
func (h *handlers) createTopup(w http.ResponseWriter, r *http.Request) {
	var req createTopupRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequest("invalid JSON body"))
		return
	}
	if req.Token == "" {
		req.Token = r.Header.Get("X-Token")
	}

	inv, err := h.topup.Create(r.Context(), req.AmountSats, req.Token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	w.Header().Set("X-Lightning-Invoice", inv.SerializedBolt11)
	w.Header().Set("X-Payment-Hash", inv.PaymentHash)
	writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
		"invoice":      inv.SerializedBolt11,
		"payment_hash": inv.PaymentHash,
		"amount_sats":  inv.AmountSats,
		"expires_in":   inv.ExpiresIn,
	})
}

type claimTopupRequest struct {
	Preimage string `json:"preimage"`
	Token    string `json:"token,omitempty"`
}

// claimTopup is `POST /api/v1/topup/claim` (spec.md §6): the preimage alone
// is proof of payment, so no auth header is required.
func (h *handlers) claimTopup(w http.ResponseWriter, r *http.Request) {
	var req claimTopupRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequest("invalid JSON body"))
		return
	}
	if req.Token == "" {
		req.Token = r.Header.Get("X-Token")
	}

	result, err := h.topup.Claim(r.Context(), req.Preimage, req.Token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	resp := map[string]interface{}{"balance_sats": result.BalanceSats}
	if result.Token != "" {
		resp["token"] = result.Token
	}
	writeJSON(w, http.StatusOK, resp)
}
