// Package gateway implements the C7 payment-gate middleware (spec.md §4.7):
// the decision procedure that prices a gated upstream call and grants access
// via a prepaid account debit, a redeemed L402 macaroon, or a freshly minted
// 402 challenge.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/l402hash"
	"github.com/l402gate/server/internal/ledger"
	"github.com/l402gate/server/internal/lightning"
	"github.com/l402gate/server/internal/macaroon"
	"github.com/l402gate/server/internal/observability"
	"github.com/l402gate/server/internal/ratelimit"
	"github.com/l402gate/server/internal/usedhash"
)

type contextKey string

const (
	// ContextKeyAccountID carries the resolved account id (bearer path) into
	// the downstream handler.
	ContextKeyAccountID contextKey = "gateway.accountID"
	// ContextKeyPriceSats carries the computed price in sats, useful for
	// logging in the upstream proxy (C8).
	ContextKeyPriceSats contextKey = "gateway.priceSats"
	// ContextKeyBody carries the already-read (and possibly rewritten) body
	// so the upstream proxy doesn't need to re-read the original request.
	ContextKeyBody contextKey = "gateway.body"
)

// Gate enforces the payment-gate decision procedure in front of every
// configured API endpoint.
type Gate struct {
	apis       map[string]config.APIConfig
	defaultMaxRequestBytes int64
	ledger     *ledger.Ledger
	lightning  *lightning.Client
	signer     *macaroon.Signer
	used       *usedhash.Set
	dailyCaps  *ratelimit.DailyCapCounter
	registry   *observability.Registry
	location   string
}

// Option configures a Gate at construction.
type Option func(*Gate)

// WithObservability wires gateway lifecycle events into the hook registry.
func WithObservability(reg *observability.Registry) Option {
	return func(g *Gate) { g.registry = reg }
}

// New builds a Gate.
func New(cfg *config.Config, l *ledger.Ledger, lc *lightning.Client, signer *macaroon.Signer, used *usedhash.Set, opts ...Option) *Gate {
	g := &Gate{
		apis:                   cfg.APIs,
		defaultMaxRequestBytes: cfg.MaxRequestBytes,
		ledger:                 l,
		lightning:              lc,
		signer:                 signer,
		used:                   used,
		dailyCaps:              ratelimit.NewDailyCapCounter(),
		location:               cfg.L402.Location,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// resolved is the per-request outcome of resolving the endpoint, pricing it,
// and reading/rewriting its body.
type resolved struct {
	api      string
	endpoint config.Endpoint
	body     []byte
	price    int64
}

// Middleware enforces the full payment-gate decision procedure for the
// named API. apiName and the request's routed path together select the
// Endpoint config (spec.md §4.7 step 1).
func (g *Gate) Middleware(apiName string, path string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := g.resolveAndPrice(r, apiName, path)
			if err != nil {
				apierr.WriteHTTP(w, err)
				return
			}

			if capErr := g.checkDailyCap(apiName, path, res.endpoint.DailyCallCap); capErr != nil {
				apierr.WriteHTTP(w, capErr)
				return
			}

			ctx, authErr := g.authorize(r.Context(), w, r, apiName, path, res)
			if authErr != nil {
				apierr.WriteHTTP(w, authErr)
				return
			}
			if ctx == nil {
				// A 402 challenge (or L402 auth) response was already written.
				return
			}

			ctx = context.WithValue(ctx, ContextKeyPriceSats, res.price)
			ctx = context.WithValue(ctx, ContextKeyBody, res.body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveAndPrice implements steps 1-4 of the decision procedure: resolve
// the endpoint, read and size-check the body, apply endpoint-specific
// rewrites, and compute the price.
func (g *Gate) resolveAndPrice(r *http.Request, apiName, path string) (*resolved, error) {
	api, ok := g.apis[apiName]
	if !ok {
		return nil, apierr.New(apierr.CodeNotFound, "unknown api")
	}
	endpoint, ok := api.Endpoints[path]
	if !ok {
		return nil, apierr.New(apierr.CodeNotFound, "unknown endpoint")
	}

	maxBytes := endpoint.MaxRequestBytes
	if maxBytes <= 0 {
		maxBytes = g.defaultMaxRequestBytes
	}

	limited := io.LimitReader(r.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "read request body", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, apierr.New(apierr.CodeRequestTooLarge, "request body exceeds max_request_bytes")
	}

	price := endpoint.PriceSats
	if endpoint.PriceType == config.PricePerModel && len(body) > 0 {
		var parsed struct {
			Model string `json:"model"`
			N     int    `json:"n"`
		}
		if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil {
			return nil, apierr.New(apierr.CodeInvalidRequest, "request body must be valid JSON for a per-model endpoint")
		}
		modelPrice, ok := endpoint.Models[parsed.Model]
		if !ok {
			modelPrice, ok = endpoint.Models["_default"]
			if !ok {
				return nil, apierr.Newf(apierr.CodeInvalidRequest, "unknown model %q", parsed.Model)
			}
		}
		price = modelPrice.PriceSats
		body = applyRewrites(body, modelPrice)
	}

	return &resolved{api: apiName, endpoint: endpoint, body: body, price: price}, nil
}

// applyRewrites enforces a per-model max_output_tokens cap and forces n=1,
// per spec.md §4.7 step 3's examples. Silently no-ops on fields the caller
// didn't set; malformed JSON was already rejected by the caller.
func applyRewrites(body []byte, mp config.ModelPrice) []byte {
	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return body
	}
	changed := false
	if mp.MaxOutputTokens > 0 {
		if v, ok := generic["max_output_tokens"]; ok {
			if f, ok := v.(float64); ok && int(f) > mp.MaxOutputTokens {
				generic["max_output_tokens"] = mp.MaxOutputTokens
				changed = true
			}
		}
	}
	if _, ok := generic["n"]; ok {
		generic["n"] = 1
		changed = true
	}
	if !changed {
		return body
	}
	rewritten, err := json.Marshal(generic)
	if err != nil {
		return body
	}
	return rewritten
}

// checkDailyCap implements step 5: a process-local per-endpoint daily call
// cap reset at UTC midnight.
func (g *Gate) checkDailyCap(apiName, path string, cap int) error {
	if cap <= 0 {
		return nil
	}
	key := apiName + ":" + path
	if g.dailyCaps.Count(key) >= cap {
		return apierr.New(apierr.CodeDailyLimitReached, "daily call cap reached for this endpoint")
	}
	g.dailyCaps.Increment(key)
	return nil
}

// authorize implements step 6's three branches. A nil, nil return means a
// response was already written to w (the L402/no-auth branches respond
// directly); a non-nil context means the caller is authorized and the
// gate should forward to the next handler.
func (g *Gate) authorize(ctx context.Context, w http.ResponseWriter, r *http.Request, apiName, path string, res *resolved) (context.Context, error) {
	if token := bearerToken(r); token != "" {
		return g.authorizeBearer(ctx, w, token, apiName, path, res)
	}
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "L402 ") {
		return g.authorizeL402(ctx, w, authz, apiName, path, res)
	}
	return nil, g.challenge(ctx, w, apiName, path, res)
}

func bearerToken(r *http.Request) string {
	if t := r.Header.Get("X-Token"); t != "" {
		return t
	}
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

// authorizeBearer is step 6(a): debit a prepaid account by price.
func (g *Gate) authorizeBearer(ctx context.Context, w http.ResponseWriter, token, apiName, path string, res *resolved) (context.Context, error) {
	accountID, err := g.ledger.AccountIDByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	label := fmt.Sprintf("%s:%s", apiName, path)
	_, debitErr := g.ledger.Debit(ctx, accountID, res.price, label)
	if debitErr != nil {
		if apiErr, ok := apierr.As(debitErr); ok && apiErr.Code == apierr.CodeInsufficientBal {
			return nil, g.challengeForAccount(ctx, w, apiName, path, res, accountID)
		}
		return nil, debitErr
	}

	return context.WithValue(ctx, ContextKeyAccountID, accountID), nil
}

// authorizeL402 is step 6(b): verify a presented macaroon+preimage.
func (g *Gate) authorizeL402(ctx context.Context, w http.ResponseWriter, header, apiName, path string, res *resolved) (context.Context, error) {
	accountID, err := g.VerifyL402Payment(ctx, header, res.price, apiName, path)
	if err != nil {
		return nil, err
	}
	if accountID != "" {
		ctx = context.WithValue(ctx, ContextKeyAccountID, accountID)
	}
	return ctx, nil
}

// VerifyL402Payment validates an `Authorization: L402 <macaroon>:<preimage>`
// header against the signer and the used-hash set, enforcing that the
// macaroon's amount_sats caveat covers minAmountSats, and marks the
// payment hash consumed on success. api/endpoint are only used to label the
// emitted redemption event; callers outside the gated-proxy catalog (e.g.
// the hire marketplace's L402-funded accept_quote) can pass a descriptive
// pair like ("hire", "accept_quote"). Returns the macaroon's bound account
// id, which may be empty if it wasn't minted with one.
func (g *Gate) VerifyL402Payment(ctx context.Context, header string, minAmountSats int64, api, endpoint string) (string, error) {
	macaroonB64, preimageHex, err := macaroon.ParseAuthorizationHeader(header)
	if err != nil {
		return "", err
	}
	m, err := macaroon.Deserialize(macaroonB64)
	if err != nil {
		return "", err
	}
	caveats, err := g.signer.Verify(m)
	if err != nil {
		g.emitRedeemed(ctx, api, endpoint, caveats.PaymentHash, "invalid_macaroon", "")
		return "", err
	}

	derivedHash, err := l402hash.HashOf(preimageHex)
	if err != nil {
		g.emitRedeemed(ctx, api, endpoint, caveats.PaymentHash, "invalid_preimage", caveats.AccountID)
		return "", err
	}
	if derivedHash != l402hash.Canonicalize(caveats.PaymentHash) {
		g.emitRedeemed(ctx, api, endpoint, caveats.PaymentHash, "invalid_preimage", caveats.AccountID)
		return "", apierr.New(apierr.CodeInvalidPayment, "preimage does not match macaroon's payment_hash caveat")
	}

	// Ordering per spec.md §9: amount is verified before the used-hash
	// check so an honest underpayment never burns the hash.
	if caveats.AmountSats < minAmountSats {
		return "", apierr.New(apierr.CodeInsufficientPay, "macaroon amount_sats is below the required amount")
	}

	if !g.used.MarkUsed(derivedHash) {
		g.emitRedeemed(ctx, api, endpoint, caveats.PaymentHash, "replayed", caveats.AccountID)
		return "", apierr.New(apierr.CodePaymentAlreadyUsed, "payment hash already redeemed")
	}

	g.emitRedeemed(ctx, api, endpoint, caveats.PaymentHash, "accepted", caveats.AccountID)
	return caveats.AccountID, nil
}

func (g *Gate) emitRedeemed(ctx context.Context, apiName, path, paymentHash, outcome, accountID string) {
	if g.registry == nil {
		return
	}
	g.registry.EmitL402Redeemed(ctx, observability.L402RedeemedEvent{
		Timestamp:   time.Now(),
		API:         apiName,
		Endpoint:    path,
		PaymentHash: paymentHash,
		Outcome:     outcome,
		AccountID:   accountID,
	})
}

// challenge is step 6(c): mint an invoice and a macaroon binding it, and
// respond 402.
func (g *Gate) challenge(ctx context.Context, w http.ResponseWriter, apiName, path string, res *resolved) error {
	return g.challengeForAccount(ctx, w, apiName, path, res, "")
}

func (g *Gate) challengeForAccount(ctx context.Context, w http.ResponseWriter, apiName, path string, res *resolved, accountID string) error {
	return g.ChallengeForFee(ctx, w, accountID, res.price, apiName, path)
}

// ChallengeForFee mints an invoice and an account-bound macaroon for a
// fixed-fee operation and writes the 402 response. It backs both the
// ordinary gated-proxy challenge (api/endpoint identify the catalog entry)
// and fixed marketplace fees outside the catalog (e.g. a posting/quote
// fee), the "outer layer" spec.md §4.9's failure semantics refers to when
// a marketplace operation fails with HireInsufficientBalance.
func (g *Gate) ChallengeForFee(ctx context.Context, w http.ResponseWriter, accountID string, amountSats int64, api, endpoint string) error {
	inv, err := g.lightning.CreateInvoice(ctx, amountSats, fmt.Sprintf("%s:%s", api, endpoint))
	if err != nil {
		return err
	}

	m := g.signer.Mint(inv.PaymentHash, amountSats, accountID)
	serialized := macaroon.Serialize(m)

	if g.registry != nil {
		g.registry.EmitChallengeIssued(ctx, observability.ChallengeIssuedEvent{
			Timestamp:   time.Now(),
			API:         api,
			Endpoint:    endpoint,
			PriceSats:   amountSats,
			PaymentHash: inv.PaymentHash,
		})
	}

	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`L402 macaroon="%s", invoice="%s"`, serialized, inv.SerializedBolt11))
	w.Header().Set("X-Lightning-Invoice", inv.SerializedBolt11)
	w.Header().Set("X-Payment-Hash", inv.PaymentHash)
	w.Header().Set("X-Price-Sats", strconv.FormatInt(amountSats, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	payload := map[string]interface{}{
		"invoice":      inv.SerializedBolt11,
		"payment_hash": inv.PaymentHash,
		"amount_sats":  amountSats,
		"expires_in":   600,
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
	return nil
}

// BodyReader reconstructs an io.Reader over the (possibly rewritten) body
// stashed in the request context, for the upstream proxy to forward.
func BodyReader(ctx context.Context) io.Reader {
	body, _ := ctx.Value(ContextKeyBody).([]byte)
	return bytes.NewReader(body)
}
