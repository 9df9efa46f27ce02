// Package httpserver implements the C10 HTTP surface (spec.md §6): route
// dispatch, the ambient middleware stack, and the JSON error envelope, on
// top of the C1-C9 domain packages.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/l402gate/server/internal/btcprice"
	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/gateway"
	"github.com/l402gate/server/internal/hire"
	"github.com/l402gate/server/internal/idempotency"
	"github.com/l402gate/server/internal/ledger"
	"github.com/l402gate/server/internal/lightning"
	"github.com/l402gate/server/internal/logger"
	"github.com/l402gate/server/internal/metrics"
	"github.com/l402gate/server/internal/ratelimit"
	"github.com/l402gate/server/internal/topup"
	"github.com/l402gate/server/internal/upstream"
	"github.com/l402gate/server/internal/withdraw"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg       *config.Config
	gate      *gateway.Gate
	proxy     *upstream.Proxy
	ledger    *ledger.Ledger
	topup     *topup.Flow
	withdraw  *withdraw.Flow
	hire      *hire.Store
	lightning *lightning.Client
	btcPrice  *btcprice.Cache
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	idempo    *idempotency.MemoryStore
}

// Deps bundles the constructed C1-C9 components the HTTP surface dispatches to.
type Deps struct {
	Gate      *gateway.Gate
	Proxy     *upstream.Proxy
	Ledger    *ledger.Ledger
	Topup     *topup.Flow
	Withdraw  *withdraw.Flow
	Hire      *hire.Store
	Lightning *lightning.Client
	BTCPrice  *btcprice.Cache
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// New builds the HTTP server with its configured router.
func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:       cfg,
			gate:      deps.Gate,
			proxy:     deps.Proxy,
			ledger:    deps.Ledger,
			topup:     deps.Topup,
			withdraw:  deps.Withdraw,
			hire:      deps.Hire,
			lightning: deps.Lightning,
			btcPrice:  deps.BTCPrice,
			metrics:   deps.Metrics,
			logger:    deps.Logger,
			idempo:    idempotency.NewMemoryStore(),
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, &s.handlers)
	return s
}

// ConfigureRouter attaches the gateway's routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, h *handlers) {
	if router == nil {
		return
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"WWW-Authenticate", "X-Lightning-Invoice", "X-Payment-Hash", "X-Price-Sats"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:   cfg.RateLimit.GlobalEnabled,
		GlobalLimit:     cfg.RateLimit.GlobalLimit,
		GlobalWindow:    cfg.RateLimit.GlobalWindow.Duration,
		PerTokenEnabled: cfg.RateLimit.PerTokenEnabled,
		PerTokenLimit:   cfg.RateLimit.PerTokenLimit,
		PerTokenWindow:  cfg.RateLimit.PerTokenWindow.Duration,
		PerIPEnabled:    cfg.RateLimit.PerIPEnabled,
		PerIPLimit:      cfg.RateLimit.PerIPLimit,
		PerIPWindow:     cfg.RateLimit.PerIPWindow.Duration,
		Metrics:         h.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.TokenLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight discovery/health endpoints get a 5s timeout, same as the
	// teacher's reasoning for not imposing a heavier one here.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/api/v1/health", h.health)
		r.Get(prefix+"/api/v1/catalog", h.catalog)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Gated proxy and money-moving endpoints get a longer timeout; the
	// per-request streaming/long-running overrides inside internal/upstream
	// take over once a call reaches the proxy.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(180 * time.Second))

		// claim and accept_quote are non-idempotent-by-nature POSTs (each
		// settles a Lightning payment / locks escrow exactly once); a client
		// retry after a timed-out response replays the cached result instead
		// of risking a second state transition.
		idempotent := idempotency.Middleware(h.idempo, idempotency.DefaultTTL)

		r.Post(prefix+"/api/v1/topup", h.createTopup)
		r.With(idempotent).Post(prefix+"/api/v1/topup/claim", h.claimTopup)
		r.Post(prefix+"/api/v1/collect", h.collect)

		r.Get(prefix+"/api/v1/ai-for-hire/me", h.hireMe)
		r.Get(prefix+"/api/v1/ai-for-hire/tasks", h.hireListTasks)
		r.Post(prefix+"/api/v1/ai-for-hire/tasks", h.hireCreateTask)
		r.Get(prefix+"/api/v1/ai-for-hire/tasks/{taskID}", h.hireGetTask)
		r.Post(prefix+"/api/v1/ai-for-hire/tasks/{taskID}/quotes", h.hireCreateQuote)
		r.Patch(prefix+"/api/v1/ai-for-hire/quotes/{quoteID}", h.hireUpdateQuote)
		r.With(idempotent).Post(prefix+"/api/v1/ai-for-hire/quotes/{quoteID}/accept", h.hireAcceptQuote)
		r.Post(prefix+"/api/v1/ai-for-hire/quotes/{quoteID}/messages", h.hireSendMessage)
		r.Get(prefix+"/api/v1/ai-for-hire/quotes/{quoteID}/messages", h.hireGetMessages)
		r.Post(prefix+"/api/v1/ai-for-hire/tasks/{taskID}/deliver", h.hireCreateDelivery)
		r.Post(prefix+"/api/v1/ai-for-hire/tasks/{taskID}/confirm", h.hireConfirmDelivery)

		// Gated proxy: one concrete route per configured (api, endpoint)
		// pair, each wrapped in that pair's own gateway.Gate.Middleware so
		// pricing/auth are resolved against the matching config entry
		// instead of a runtime api/path lookup inside a single handler.
		for apiName, api := range cfg.APIs {
			for path := range api.Endpoints {
				route := prefix + "/api/v1/" + apiName + path
				r.With(h.gate.Middleware(apiName, path)).Post(route, h.forwardUpstream(apiName, path))
			}
		}
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.idempo != nil {
		s.idempo.Stop()
	}
	return err
}

// adminMetricsAuth gates the Prometheus endpoint behind an optional static
// key, mirroring the teacher's own admin-metrics protection.
func adminMetricsAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("X-Admin-Metrics-Key") != key {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
