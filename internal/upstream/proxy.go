// Package upstream implements the C8 upstream proxy (spec.md §4.8):
// forwarding a gated request to the configured upstream API once the
// payment gate (C7) has granted access, with SSE streaming passthrough for
// chat/response-style endpoints.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/circuitbreaker"
	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/gateway"
	"github.com/l402gate/server/internal/httputil"
	"github.com/l402gate/server/internal/metrics"
)

const (
	defaultTimeout     = 180 * time.Second
	longRunningTimeout = 600 * time.Second
)

// streamingPaths are the endpoints spec.md §4.8 calls out for SSE
// passthrough when the request body sets stream=true.
var streamingPaths = map[string]bool{
	"/v1/chat/completions": true,
	"/v1/responses":        true,
}

// longRunningPaths get the 600s timeout instead of the 180s default.
var longRunningPaths = map[string]bool{
	"/v1/images/generations": true,
	"/v1/videos/generations": true,
	"/v1/responses":          true,
}

// Proxy forwards gated requests to their configured upstream API.
type Proxy struct {
	apis    map[string]config.APIConfig
	client  *http.Client
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
}

// Option configures a Proxy at construction.
type Option func(*Proxy)

// WithBreaker wires circuit-breaker protection around upstream calls.
func WithBreaker(m *circuitbreaker.Manager) Option {
	return func(p *Proxy) { p.breaker = m }
}

// WithMetrics wires Prometheus observation into every forwarded call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// New builds a Proxy. The HTTP client's own Timeout field is left at zero;
// per-request timeouts are applied via context so streaming calls can opt
// out entirely.
func New(cfg *config.Config, opts ...Option) *Proxy {
	p := &Proxy{
		apis:   cfg.APIs,
		client: httputil.NewClient(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Forward builds and executes the upstream call for apiName/path, streaming
// the response back to w verbatim. It expects to run after gateway.Gate's
// middleware has already granted access and stashed the (possibly
// rewritten) body in the request context.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, apiName, path string) {
	api, ok := p.apis[apiName]
	if !ok {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeNotFound, "unknown api"))
		return
	}
	endpoint, ok := api.Endpoints[path]
	if !ok {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeNotFound, "unknown endpoint"))
		return
	}

	bodyBytes, _ := io.ReadAll(gateway.BodyReader(r.Context()))
	streaming := endpoint.Streamable && streamingPaths[path] && requestsStream(bodyBytes)

	ctx, cancel := p.requestContext(r.Context(), endpoint, path, streaming)
	defer cancel()

	upstreamURL := strings.TrimSuffix(api.UpstreamBase, "/") + path
	req, err := http.NewRequestWithContext(ctx, endpoint.Method, upstreamURL, bytes.NewReader(bodyBytes))
	if err != nil {
		apierr.WriteHTTP(w, apierr.Wrap(apierr.CodeInternal, "build upstream request", err))
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	applyAuth(req, api)
	for k, v := range api.ExtraHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.do(req)
	duration := time.Since(start)
	if p.metrics != nil {
		p.metrics.ObserveUpstreamCall(apiName, path, streaming, duration, err)
	}
	if err != nil {
		apierr.WriteHTTP(w, apierr.Wrap(apierr.CodeUpstreamError, "upstream call failed", err))
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if streaming {
		p.relayStreaming(w, resp.Body)
		if p.metrics != nil {
			p.metrics.ObserveStreamingSession("completed")
		}
		return
	}

	io.Copy(w, resp.Body)
}

// do executes req, optionally under circuit-breaker protection.
func (p *Proxy) do(req *http.Request) (*http.Response, error) {
	if p.breaker == nil {
		return p.client.Do(req)
	}
	result, err := p.breaker.Execute(circuitbreaker.ServiceUpstream, func() (interface{}, error) {
		return p.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// relayStreaming copies bytes from body to w without buffering, flushing
// after every chunk so server-sent events reach the client immediately.
func (p *Proxy) relayStreaming(w http.ResponseWriter, body io.Reader) {
	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
	}
}

// requestContext applies spec.md §4.8's timeout rules: disabled for
// streams, 600s for long-running endpoints, 180s default otherwise. A
// per-endpoint config override always wins.
func (p *Proxy) requestContext(parent context.Context, endpoint config.Endpoint, path string, streaming bool) (context.Context, context.CancelFunc) {
	if streaming {
		return context.WithCancel(parent)
	}
	timeout := endpoint.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
		if longRunningPaths[path] {
			timeout = longRunningTimeout
		}
	}
	return context.WithTimeout(parent, timeout)
}

// applyAuth injects the upstream-specific auth header, reading the API key
// fresh from the environment on every call (spec.md §9: a rotated key never
// requires a config reload).
func applyAuth(req *http.Request, api config.APIConfig) {
	if api.APIKeyEnv == "" {
		return
	}
	header := api.AuthHeader
	if header == "" {
		header = "Authorization"
	}
	key := os.Getenv(api.APIKeyEnv)
	req.Header.Set(header, api.AuthPrefix+key)
}

// requestsStream reports whether a JSON body sets "stream": true.
func requestsStream(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var parsed struct {
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	return parsed.Stream
}
