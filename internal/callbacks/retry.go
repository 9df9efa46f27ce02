package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/httputil"
	"github.com/l402gate/server/internal/metrics"
	"github.com/rs/zerolog"
)

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	MaxAttempts     int           // Maximum retry attempts (default: 5)
	InitialInterval time.Duration // Initial backoff interval (default: 1s)
	MaxInterval     time.Duration // Maximum backoff interval (default: 5m)
	Multiplier      float64       // Backoff multiplier (default: 2.0)
	Timeout         time.Duration // Per-attempt timeout (default: 10s)
}

// DefaultRetryConfig returns sensible defaults for webhook retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts gateway events with exponential backoff retry logic.
type RetryableClient struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	dlqStore   DLQStore         // dead letter queue for exhausted retries
	metrics    *metrics.Metrics // Prometheus metrics collector
}

// DLQStore persists failed webhook attempts for manual retry or analysis.
type DLQStore interface {
	SaveFailedWebhook(ctx context.Context, webhook FailedWebhook) error
	ListFailedWebhooks(ctx context.Context, limit int) ([]FailedWebhook, error)
	DeleteFailedWebhook(ctx context.Context, id string) error
}

// FailedWebhook represents a webhook that exhausted all retry attempts.
type FailedWebhook struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Payload     json.RawMessage   `json:"payload"`
	Headers     map[string]string `json:"headers"`
	EventType   string            `json:"eventType"` // "topup.settled" or "hire.delivery_confirmed"
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"lastError"`
	LastAttempt time.Time         `json:"lastAttempt"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// RetryOption customizes the retry client behavior.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) {
		c.logger = logger
	}
}

// WithDLQStore enables dead letter queue for failed webhooks.
func WithDLQStore(store DLQStore) RetryOption {
	return func(c *RetryableClient) {
		c.dlqStore = store
	}
}

// WithRetryConfig sets custom retry configuration.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) {
		c.retryCfg = cfg
	}
}

// WithMetrics sets the metrics collector for webhook observability.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) {
		c.metrics = m
	}
}

// NewRetryableClient constructs a callback client with retry support. If no
// URLs are configured at all, it degrades to NoopNotifier.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) Notifier {
	if len(cfg.URLs) == 0 {
		return NoopNotifier{}
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &RetryableClient{
		cfg:        cfg,
		retryCfg:   DefaultRetryConfig(),
		httpClient: httputil.NewClient(timeout),
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// TopupSettled dispatches a topup.settled webhook asynchronously with retry
// logic. IMPORTANT: EventID is generated once and preserved across all retry
// attempts for idempotency.
func (c *RetryableClient) TopupSettled(ctx context.Context, event TopupSettledEvent) {
	url := c.cfg.URLs["topup.settled"]
	if c == nil || url == "" {
		return
	}

	PrepareTopupSettledEvent(&event)

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			c.logger.Error().Err(err).Msg("callbacks: failed to serialize topup.settled event")
			return
		}

		if err := c.sendWithRetry(context.Background(), url, payload, "topup.settled"); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", event.EventID).
				Msg("callbacks: topup.settled webhook failed after all retries")
			if c.dlqStore != nil {
				c.saveToDLQ(context.Background(), url, payload, "topup.settled", err)
			}
		}
	}()
}

// DeliveryConfirmed dispatches a hire.delivery_confirmed webhook
// asynchronously with retry logic.
func (c *RetryableClient) DeliveryConfirmed(ctx context.Context, event DeliveryConfirmedEvent) {
	url := c.cfg.URLs["hire.delivery_confirmed"]
	if c == nil || url == "" {
		return
	}

	PrepareDeliveryConfirmedEvent(&event)

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			c.logger.Error().Err(err).Msg("callbacks: failed to serialize hire.delivery_confirmed event")
			return
		}

		if err := c.sendWithRetry(context.Background(), url, payload, "hire.delivery_confirmed"); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", event.EventID).
				Msg("callbacks: hire.delivery_confirmed webhook failed after all retries")
			if c.dlqStore != nil {
				c.saveToDLQ(context.Background(), url, payload, "hire.delivery_confirmed", err)
			}
		}
	}()
}

// sendWithRetry attempts to send the webhook with exponential backoff.
func (c *RetryableClient) sendWithRetry(ctx context.Context, url string, payload []byte, eventType string) error {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	startTime := time.Now()

	if !c.cfg.Retry.Enabled {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.sendHTTP(reqCtx, url, payload)
		cancel()
		if c.metrics != nil {
			status := "success"
			if err != nil {
				status = "failed"
			}
			c.metrics.ObserveWebhook(eventType, status, time.Since(startTime), 1, false)
		}
		return err
	}

	for attempt := 1; attempt <= c.retryCfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.sendHTTP(reqCtx, url, payload)
		cancel()

		if err == nil {
			duration := time.Since(startTime)
			if c.metrics != nil {
				c.metrics.ObserveWebhook(eventType, "success", duration, attempt, false)
			}
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Str("eventType", eventType).
					Msg("callbacks: webhook succeeded after retry")
			}
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("maxAttempts", c.retryCfg.MaxAttempts).
			Str("eventType", eventType).
			Dur("nextRetry", interval).
			Msg("callbacks: webhook attempt failed")

		if attempt < c.retryCfg.MaxAttempts {
			time.Sleep(interval)
			interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
			if interval > c.retryCfg.MaxInterval {
				interval = c.retryCfg.MaxInterval
			}
		}
	}

	duration := time.Since(startTime)
	if c.metrics != nil {
		c.metrics.ObserveWebhook(eventType, "failed", duration, c.retryCfg.MaxAttempts, false)
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", c.retryCfg.MaxAttempts, lastErr)
}

// sendHTTP performs the actual HTTP request.
func (c *RetryableClient) sendHTTP(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	contentType := c.cfg.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)

	for k, v := range c.cfg.Headers {
		if k == "" || strings.EqualFold(k, "content-type") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, url)
	}

	return nil
}

// saveToDLQ persists a failed webhook to the dead letter queue.
func (c *RetryableClient) saveToDLQ(ctx context.Context, url string, payload []byte, eventType string, lastErr error) {
	webhook := FailedWebhook{
		ID:          generateWebhookID(),
		URL:         url,
		Payload:     json.RawMessage(payload),
		Headers:     c.cfg.Headers,
		EventType:   eventType,
		Attempts:    c.retryCfg.MaxAttempts,
		LastError:   lastErr.Error(),
		LastAttempt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}

	if err := c.dlqStore.SaveFailedWebhook(ctx, webhook); err != nil {
		c.logger.Error().Err(err).Str("webhookID", webhook.ID).Msg("callbacks: failed to save to DLQ")
	} else {
		if c.metrics != nil {
			totalDuration := time.Duration(webhook.Attempts) * c.retryCfg.InitialInterval
			c.metrics.ObserveWebhook(eventType, "dlq", totalDuration, webhook.Attempts, true)
		}
		c.logger.Info().
			Str("webhookID", webhook.ID).
			Str("eventType", eventType).
			Int("attempts", webhook.Attempts).
			Msg("callbacks: saved failed webhook to DLQ")
	}
}

// generateWebhookID creates a unique identifier for failed webhooks.
func generateWebhookID() string {
	return fmt.Sprintf("webhook_%d", time.Now().UnixNano())
}
