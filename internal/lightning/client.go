// Package lightning implements the C4 Lightning client (spec.md §4.4): a
// thin HTTP client against a Phoenix-style node over basic auth, wrapped in
// a circuit breaker and an outbound rate limiter.
package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/circuitbreaker"
	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/httputil"
	"github.com/l402gate/server/internal/l402hash"
	"github.com/l402gate/server/internal/observability"
	"golang.org/x/time/rate"
)

// defaultTimeout is spec.md §4.4's 20s default; the proxy separately raises
// timeouts up to 600s for slow streaming upstream endpoints, which is a
// property of internal/upstream, not this client.
const defaultTimeout = 20 * time.Second

// Client talks to a single Phoenix-style Lightning node.
type Client struct {
	baseURL    string
	password   string
	httpClient *http.Client
	breaker    *circuitbreaker.Manager
	limiter    *rate.Limiter
	registry   *observability.Registry
}

// Option configures a Client at construction.
type Option func(*Client)

// WithBreaker wires circuit-breaker protection around every call.
func WithBreaker(m *circuitbreaker.Manager) Option {
	return func(c *Client) { c.breaker = m }
}

// WithRateLimit throttles outbound calls to the node, independent of the
// inbound per-IP/per-token HTTP limiter in internal/ratelimit.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithObservability wires Lightning lifecycle events into the hook registry.
func WithObservability(reg *observability.Registry) Option {
	return func(c *Client) { c.registry = reg }
}

// New builds a Client from configuration. The node password is read from
// the environment variable named by cfg.PasswordEnv, never stored in YAML.
func New(cfg config.PhoenixConfig, opts ...Option) *Client {
	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		password:   os.Getenv(cfg.PasswordEnv),
		httpClient: httputil.NewClient(timeout),
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoice is the result of creating a Lightning invoice.
type Invoice struct {
	PaymentHash    string `json:"paymentHash"`
	SerializedBolt11 string `json:"serialized"`
}

// PaymentResult is the result of paying a Lightning invoice.
type PaymentResult struct {
	Preimage    string `json:"preimage"`
	PaymentHash string `json:"paymentHash"`
	FeesSats    int64  `json:"feesSats"`
}

// CreateInvoice asks the node for a new invoice (spec.md §4.4).
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, description string) (*Invoice, error) {
	form := url.Values{}
	form.Set("amountSat", fmt.Sprintf("%d", amountSats))
	form.Set("description", description)

	var raw struct {
		PaymentHash string `json:"paymentHash"`
		Serialized  string `json:"serialized"`
	}
	if err := c.doForm(ctx, "/createinvoice", form, &raw); err != nil {
		return nil, err
	}

	if c.registry != nil {
		c.registry.EmitInvoiceCreated(ctx, observability.InvoiceCreatedEvent{
			Timestamp:   time.Now(),
			PaymentHash: l402hash.Canonicalize(raw.PaymentHash),
			AmountSats:  amountSats,
			Purpose:     description,
			ExpiresAt:   time.Now().Add(10 * time.Minute),
		})
	}

	return &Invoice{
		PaymentHash:      l402hash.Canonicalize(raw.PaymentHash),
		SerializedBolt11: raw.Serialized,
	}, nil
}

// PayInvoice pays a bolt11 invoice, used by the `collect` (withdraw)
// endpoint to pay a caller's balance out to their external wallet.
func (c *Client) PayInvoice(ctx context.Context, bolt11 string) (*PaymentResult, error) {
	form := url.Values{}
	form.Set("invoice", bolt11)

	start := time.Now()
	var raw struct {
		PaymentPreimage string `json:"paymentPreimage"`
		PaymentHash     string `json:"paymentHash"`
		RoutingFeeSat   int64  `json:"routingFeeSat"`
	}
	err := c.doForm(ctx, "/payinvoice", form, &raw)

	if c.registry != nil {
		duration := time.Since(start)
		c.registry.EmitInvoiceSettled(ctx, observability.InvoiceSettledEvent{
			Timestamp:   time.Now(),
			PaymentHash: l402hash.Canonicalize(raw.PaymentHash),
			Duration:    duration,
			Purpose:     "pay_invoice",
		})
	}
	if err != nil {
		return nil, err
	}

	return &PaymentResult{
		Preimage:    raw.PaymentPreimage,
		PaymentHash: l402hash.Canonicalize(raw.PaymentHash),
		FeesSats:    raw.RoutingFeeSat,
	}, nil
}

// GetBalance returns the node's current balance in sats, satisfying
// monitoring.BalanceSource.
func (c *Client) GetBalance(ctx context.Context) (int64, error) {
	var raw struct {
		BalanceSat int64 `json:"balanceSat"`
	}
	if err := c.doGet(ctx, "/getbalance", &raw); err != nil {
		return 0, err
	}
	return raw.BalanceSat, nil
}

func (c *Client) doForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (c *Client) doGet(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

// do issues a single HTTP request against the node under circuit-breaker
// protection and the outbound rate limiter, and decodes a JSON response.
// Non-2xx responses and transport failures collapse to a single typed
// "lightning unavailable" error, per spec.md §4.4.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apierr.Wrap(apierr.CodePhoenixUnavailable, "lightning rate limiter", err)
	}

	exec := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth("", c.password)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("lightning node returned status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		}

		return respBody, nil
	}

	var result interface{}
	var err error
	if c.breaker != nil {
		result, err = c.breaker.Execute(circuitbreaker.ServiceLightning, exec)
	} else {
		result, err = exec()
	}
	if err != nil {
		return apierr.Wrap(apierr.CodePhoenixUnavailable, "lightning node unavailable", err)
	}

	respBody, _ := result.([]byte)
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apierr.Wrap(apierr.CodePhoenixUnavailable, "lightning node returned malformed response", err)
		}
	}
	return nil
}
