// Command gatewayd runs the L402 gateway and ai-for-hire marketplace as a
// standalone HTTP service: config -> Postgres pool -> Lightning client ->
// macaroon signer -> account ledger -> marketplace -> gated proxy -> HTTP
// router, torn down in reverse order on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/l402gate/server/internal/btcprice"
	"github.com/l402gate/server/internal/callbacks"
	"github.com/l402gate/server/internal/circuitbreaker"
	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/dbpool"
	"github.com/l402gate/server/internal/gateway"
	"github.com/l402gate/server/internal/hire"
	"github.com/l402gate/server/internal/httpserver"
	"github.com/l402gate/server/internal/ledger"
	"github.com/l402gate/server/internal/lifecycle"
	"github.com/l402gate/server/internal/lightning"
	"github.com/l402gate/server/internal/logger"
	"github.com/l402gate/server/internal/macaroon"
	"github.com/l402gate/server/internal/metrics"
	"github.com/l402gate/server/internal/monitoring"
	"github.com/l402gate/server/internal/observability"
	"github.com/l402gate/server/internal/topup"
	"github.com/l402gate/server/internal/upstream"
	"github.com/l402gate/server/internal/usedhash"
	"github.com/l402gate/server/internal/withdraw"
	"golang.org/x/time/rate"
)

// phoenixOutboundRate/phoenixOutboundBurst throttle calls to the Phoenix
// node independent of the circuit breaker, which trips on failures rather
// than request volume. Phoenix nodes are single-operator and modest, so
// these are conservative fixed defaults rather than a new config surface.
const (
	phoenixOutboundRate  rate.Limit = 10
	phoenixOutboundBurst int        = 20
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gatewayd.exit")
	}
}

func run() error {
	configPath := os.Getenv("GATEWAY_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "l402-gateway",
		Environment: cfg.Logging.Environment,
	})
	log.Logger = appLogger

	resources := lifecycle.NewManager()
	defer func() {
		if closeErr := resources.Close(); closeErr != nil {
			appLogger.Error().Err(closeErr).Msg("gatewayd.shutdown_resources")
		}
	}()

	pool, err := dbpool.NewSharedPool(cfg.Database.PostgresURL, cfg.Database.PostgresPool, cfg.Database.PostgresURLFallbacks...)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	resources.Register("postgres-pool", pool)
	db := pool.DB()

	ctx := context.Background()
	if err := ledger.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	if err := topup.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure topup schema: %w", err)
	}
	if err := hire.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure hire schema: %w", err)
	}

	registry := observability.NewRegistry(appLogger)
	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	promHook := observability.NewPrometheusHook(metricsCollector)
	registry.RegisterL402Hook(promHook)
	registry.RegisterLightningHook(promHook)
	registry.RegisterTopupHook(promHook)
	registry.RegisterHireHook(promHook)
	registry.RegisterWebhookHook(promHook)
	registry.RegisterDatabaseHook(promHook)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	lnPassword := os.Getenv(cfg.Phoenix.PasswordEnv)
	if lnPassword == "" {
		appLogger.Warn().Str("env", cfg.Phoenix.PasswordEnv).
			Msg("gatewayd.phoenix_password_missing")
	}
	lightningClient := lightning.New(cfg.Phoenix,
		lightning.WithBreaker(breakers),
		lightning.WithObservability(registry),
		lightning.WithRateLimit(phoenixOutboundRate, phoenixOutboundBurst),
	)

	rootKey, err := loadOrGenerateRootKey(cfg.L402.RootKeyEnv)
	if err != nil {
		return fmt.Errorf("load l402 root key: %w", err)
	}
	signer, err := macaroon.NewSigner(cfg.L402.Location, rootKey)
	if err != nil {
		return fmt.Errorf("init macaroon signer: %w", err)
	}

	used := usedhash.New(
		usedhash.WithTTL(time.Duration(cfg.UsedHashTTLSeconds)*time.Second),
		usedhash.WithCleanupInterval(time.Duration(cfg.UsedHashCleanupIntervalSeconds)*time.Second),
	)
	resources.RegisterFunc("used-hash-set", used.Close)

	accountLedger := ledger.New(db,
		ledger.WithMetrics(metricsCollector),
		ledger.WithObservability(registry),
	)

	notifier, err := buildNotifier(ctx, cfg, db, appLogger, metricsCollector)
	if err != nil {
		return fmt.Errorf("init callback notifier: %w", err)
	}
	if closer, ok := notifier.(interface{ Close() error }); ok {
		resources.Register("webhook-notifier", closer)
	}

	topupFlow := topup.New(db, lightningClient, accountLedger,
		topup.WithNotifier(notifier),
		topup.WithObservability(registry),
	)
	withdrawFlow := withdraw.New(accountLedger, lightningClient)
	hireStore := hire.New(db,
		hire.WithNotifier(notifier),
		hire.WithObservability(registry),
		hire.WithMetrics(metricsCollector),
	)

	gate := gateway.New(cfg, accountLedger, lightningClient, signer, used,
		gateway.WithObservability(registry),
	)
	proxy := upstream.New(cfg,
		upstream.WithBreaker(breakers),
		upstream.WithMetrics(metricsCollector),
	)

	btcPriceCache := btcprice.NewFromConfig(cfg.BTCPrice)

	balanceMonitor := monitoring.NewBalanceMonitor(cfg, lightningClient)
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	balanceMonitor.Start(monitorCtx)
	resources.RegisterFunc("balance-monitor", func() error {
		cancelMonitor()
		return nil
	})

	srv := buildHTTPServer(cfg, gate, proxy, accountLedger, topupFlow, withdrawFlow, hireStore, lightningClient, btcPriceCache, metricsCollector, appLogger)

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info().Str("address", cfg.Server.Address).Msg("gatewayd.listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-sigCh:
		appLogger.Info().Str("signal", sig.String()).Msg("gatewayd.shutting_down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-serveErr
}

// loadOrGenerateRootKey reads a base64-encoded 32-byte macaroon root key
// from the named environment variable, generating an ephemeral one (and
// warning loudly) when unset. An ephemeral key means every macaroon the
// gateway ever minted becomes unverifiable across a restart, so this is a
// startup-only convenience, never a production posture.
func loadOrGenerateRootKey(envVar string) ([]byte, error) {
	raw := os.Getenv(envVar)
	if raw == "" {
		log.Warn().Str("env", envVar).
			Msg("gatewayd.root_key_missing_generating_ephemeral")
		return macaroon.GenerateRootKey()
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64-encoded: %w", envVar, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", envVar, len(key))
	}
	return key, nil
}

// buildNotifier prefers a Postgres-backed persistent webhook queue (durable
// across restarts) over the teacher's in-memory RetryableClient, since the
// gateway already holds an open Postgres pool for the ledger; it falls back
// to NoopNotifier when no callback URLs are configured at all (both
// constructors already do that internally).
func buildNotifier(ctx context.Context, cfg *config.Config, db *sql.DB, appLogger zerolog.Logger, m *metrics.Metrics) (callbacks.Notifier, error) {
	if len(cfg.Callbacks.URLs) == 0 {
		return callbacks.NoopNotifier{}, nil
	}

	store, err := callbacks.NewPostgresStore(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("init webhook queue store: %w", err)
	}

	retryCfg := callbacks.RetryConfig{
		MaxAttempts:     cfg.Callbacks.Retry.MaxAttempts,
		InitialInterval: cfg.Callbacks.Retry.InitialInterval.Duration,
		MaxInterval:     cfg.Callbacks.Retry.MaxInterval.Duration,
		Multiplier:      cfg.Callbacks.Retry.Multiplier,
		Timeout:         cfg.Callbacks.Timeout.Duration,
	}

	client := callbacks.NewPersistentCallbackClient(callbacks.PersistentCallbackOptions{
		Store:       store,
		Config:      cfg.Callbacks,
		RetryConfig: retryCfg,
		Logger:      appLogger,
		Metrics:     m,
	})
	if client == nil {
		return callbacks.NoopNotifier{}, nil
	}
	return client, nil
}

// buildHTTPServer assembles the C10 HTTP surface from the wired domain
// components.
func buildHTTPServer(
	cfg *config.Config,
	gate *gateway.Gate,
	proxy *upstream.Proxy,
	accountLedger *ledger.Ledger,
	topupFlow *topup.Flow,
	withdrawFlow *withdraw.Flow,
	hireStore *hire.Store,
	lightningClient *lightning.Client,
	btcPriceCache *btcprice.Cache,
	metricsCollector *metrics.Metrics,
	appLogger zerolog.Logger,
) *httpserver.Server {
	return httpserver.New(cfg, httpserver.Deps{
		Gate:      gate,
		Proxy:     proxy,
		Ledger:    accountLedger,
		Topup:     topupFlow,
		Withdraw:  withdrawFlow,
		Hire:      hireStore,
		Lightning: lightningClient,
		BTCPrice:  btcPriceCache,
		Metrics:   metricsCollector,
		Logger:    appLogger,
	})
}
