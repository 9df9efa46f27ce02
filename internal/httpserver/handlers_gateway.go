package httpserver

import "net/http"

// forwardUpstream returns the terminal handler for a gated proxy route: by
// the time it runs, gateway.Gate's middleware has already priced the
// request, granted access (debit, L402 redemption, or written a 402
// challenge), and stashed the possibly-rewritten body in the request
// context.
func (h *handlers) forwardUpstream(apiName, path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.proxy.Forward(w, r, apiName, path)
	}
}
