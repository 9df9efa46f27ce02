package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/httputil"
	"github.com/l402gate/server/internal/metrics"
	"github.com/rs/zerolog"
)

// WebhookStatus tracks a queued webhook's delivery lifecycle.
type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusFailed     WebhookStatus = "failed"
	WebhookStatusSuccess    WebhookStatus = "success"
)

// PendingWebhook is a webhook delivery queued for durable, restart-surviving
// dispatch, as opposed to RetryableClient's fire-and-forget goroutine.
type PendingWebhook struct {
	ID            string
	URL           string
	Payload       json.RawMessage
	Headers       map[string]string
	EventType     string
	Status        WebhookStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// Store persists the webhook queue so deliveries survive a gateway restart.
type Store interface {
	EnqueueWebhook(ctx context.Context, webhook PendingWebhook) (string, error)
	DequeueWebhooks(ctx context.Context, limit int) ([]PendingWebhook, error)
	MarkWebhookProcessing(ctx context.Context, id string) error
	MarkWebhookSuccess(ctx context.Context, id string) error
	MarkWebhookFailed(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error
}

// WebhookQueueWorker processes webhooks from the persistent queue.
type WebhookQueueWorker struct {
	store        Store
	cfg          config.CallbacksConfig
	retryCfg     RetryConfig
	httpClient   *http.Client
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	stopChan     chan struct{}
	doneChan     chan struct{}
	pollInterval time.Duration
}

// WebhookQueueWorkerOptions configures the webhook queue worker.
type WebhookQueueWorkerOptions struct {
	Store        Store
	Config       config.CallbacksConfig
	RetryConfig  RetryConfig
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
	PollInterval time.Duration // how often to poll for pending webhooks (default: 5s)
}

// NewWebhookQueueWorker creates a new webhook queue worker.
func NewWebhookQueueWorker(opts WebhookQueueWorkerOptions) *WebhookQueueWorker {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.RetryConfig.Timeout == 0 {
		opts.RetryConfig = DefaultRetryConfig()
	}
	if opts.Logger.GetLevel() == zerolog.Disabled {
		opts.Logger = zerolog.Nop()
	}

	timeout := opts.Config.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookQueueWorker{
		store:        opts.Store,
		cfg:          opts.Config,
		retryCfg:     opts.RetryConfig,
		httpClient:   httputil.NewClient(timeout),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		pollInterval: opts.PollInterval,
	}
}

// Start begins processing webhooks from the queue.
func (w *WebhookQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker.
func (w *WebhookQueueWorker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

func (w *WebhookQueueWorker) run(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info().
		Dur("pollInterval", w.pollInterval).
		Msg("webhook queue worker started")

	for {
		select {
		case <-w.stopChan:
			w.logger.Info().Msg("webhook queue worker stopping")
			return
		case <-ticker.C:
			w.processQueue(ctx)
		}
	}
}

func (w *WebhookQueueWorker) processQueue(ctx context.Context) {
	webhooks, err := w.store.DequeueWebhooks(ctx, 10)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to dequeue webhooks")
		return
	}

	if len(webhooks) == 0 {
		return
	}

	w.logger.Debug().Int("count", len(webhooks)).Msg("processing webhooks from queue")

	for _, webhook := range webhooks {
		w.processWebhook(ctx, webhook)
	}
}

func (w *WebhookQueueWorker) processWebhook(ctx context.Context, webhook PendingWebhook) {
	if err := w.store.MarkWebhookProcessing(ctx, webhook.ID); err != nil {
		w.logger.Error().
			Err(err).
			Str("webhookID", webhook.ID).
			Msg("failed to mark webhook as processing")
		return
	}
	webhook.Attempts++

	startTime := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, w.retryCfg.Timeout)
	err := w.sendWebhook(reqCtx, webhook)
	cancel()

	duration := time.Since(startTime)

	if err == nil {
		if markErr := w.store.MarkWebhookSuccess(ctx, webhook.ID); markErr != nil {
			w.logger.Error().
				Err(markErr).
				Str("webhookID", webhook.ID).
				Msg("failed to mark webhook as successful")
		}

		if w.metrics != nil {
			w.metrics.ObserveWebhook(webhook.EventType, "success", duration, webhook.Attempts, false)
		}

		w.logger.Info().
			Str("webhookID", webhook.ID).
			Str("eventType", webhook.EventType).
			Int("attempts", webhook.Attempts).
			Dur("duration", duration).
			Msg("webhook delivered successfully")

		return
	}

	w.handleWebhookFailure(ctx, webhook, err)
}

func (w *WebhookQueueWorker) handleWebhookFailure(ctx context.Context, webhook PendingWebhook, deliveryErr error) {
	backoffDuration := w.calculateBackoff(webhook.Attempts)
	nextAttemptAt := time.Now().Add(backoffDuration)

	if err := w.store.MarkWebhookFailed(ctx, webhook.ID, deliveryErr.Error(), nextAttemptAt); err != nil {
		w.logger.Error().
			Err(err).
			Str("webhookID", webhook.ID).
			Msg("failed to mark webhook as failed")
		return
	}

	if webhook.Attempts >= webhook.MaxAttempts {
		if w.metrics != nil {
			w.metrics.ObserveWebhook(webhook.EventType, "dlq", time.Since(webhook.CreatedAt), webhook.Attempts, true)
		}

		w.logger.Warn().
			Str("webhookID", webhook.ID).
			Str("eventType", webhook.EventType).
			Int("attempts", webhook.Attempts).
			Err(deliveryErr).
			Msg("webhook failed permanently after all retries")
	} else {
		w.logger.Warn().
			Str("webhookID", webhook.ID).
			Str("eventType", webhook.EventType).
			Int("attempts", webhook.Attempts).
			Time("nextAttempt", nextAttemptAt).
			Err(deliveryErr).
			Msg("webhook delivery failed, scheduled for retry")
	}
}

func (w *WebhookQueueWorker) calculateBackoff(attempt int) time.Duration {
	backoff := w.retryCfg.InitialInterval

	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * w.retryCfg.Multiplier)
		if backoff > w.retryCfg.MaxInterval {
			backoff = w.retryCfg.MaxInterval
			break
		}
	}

	return backoff
}

func (w *WebhookQueueWorker) sendWebhook(ctx context.Context, webhook PendingWebhook) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(webhook.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	for key, value := range webhook.Headers {
		if key == "" {
			continue
		}
		req.Header.Set(key, value)
	}

	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, webhook.URL)
	}

	return nil
}

// EnqueueTopupSettledWebhook adds a topup.settled webhook to the persistent queue.
func (w *WebhookQueueWorker) EnqueueTopupSettledWebhook(ctx context.Context, event TopupSettledEvent) error {
	PrepareTopupSettledEvent(&event)
	return w.enqueue(ctx, "topup.settled", event)
}

// EnqueueDeliveryConfirmedWebhook adds a hire.delivery_confirmed webhook to
// the persistent queue.
func (w *WebhookQueueWorker) EnqueueDeliveryConfirmedWebhook(ctx context.Context, event DeliveryConfirmedEvent) error {
	PrepareDeliveryConfirmedEvent(&event)
	return w.enqueue(ctx, "hire.delivery_confirmed", event)
}

func (w *WebhookQueueWorker) enqueue(ctx context.Context, eventType string, payload interface{}) error {
	url := w.cfg.URLs[eventType]
	if url == "" {
		return ErrCallbackDisabled
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	webhook := PendingWebhook{
		URL:           url,
		Payload:       json.RawMessage(body),
		Headers:       w.cfg.Headers,
		EventType:     eventType,
		Status:        WebhookStatusPending,
		Attempts:      0,
		MaxAttempts:   w.retryCfg.MaxAttempts,
		NextAttemptAt: time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}

	webhookID, err := w.store.EnqueueWebhook(ctx, webhook)
	if err != nil {
		return fmt.Errorf("enqueue webhook: %w", err)
	}

	w.logger.Debug().
		Str("webhookID", webhookID).
		Str("eventType", eventType).
		Msg("webhook enqueued")

	return nil
}
