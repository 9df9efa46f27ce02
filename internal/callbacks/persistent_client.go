package callbacks

import (
	"context"

	"github.com/l402gate/server/internal/config"
	"github.com/l402gate/server/internal/metrics"
	"github.com/rs/zerolog"
)

// PersistentCallbackClient delivers webhooks via a persistent queue.
// Unlike RetryableClient which uses goroutines (lost on restart), this client
// persists webhooks to the database for guaranteed delivery across server restarts.
type PersistentCallbackClient struct {
	worker *WebhookQueueWorker
	logger zerolog.Logger
}

// PersistentCallbackOptions configures the persistent callback client.
type PersistentCallbackOptions struct {
	Store       Store
	Config      config.CallbacksConfig
	RetryConfig RetryConfig
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// NewPersistentCallbackClient creates a callback client with persistent queue backing.
func NewPersistentCallbackClient(opts PersistentCallbackOptions) *PersistentCallbackClient {
	if len(opts.Config.URLs) == 0 {
		return nil
	}

	if opts.RetryConfig.Timeout == 0 {
		opts.RetryConfig = DefaultRetryConfig()
	}

	worker := NewWebhookQueueWorker(WebhookQueueWorkerOptions{
		Store:       opts.Store,
		Config:      opts.Config,
		RetryConfig: opts.RetryConfig,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})

	worker.Start(context.Background())

	return &PersistentCallbackClient{
		worker: worker,
		logger: opts.Logger,
	}
}

// TopupSettled queues a topup.settled webhook for persistent delivery.
func (c *PersistentCallbackClient) TopupSettled(ctx context.Context, event TopupSettledEvent) {
	if c == nil || c.worker == nil {
		return
	}

	if err := c.worker.EnqueueTopupSettledWebhook(ctx, event); err != nil {
		c.logger.Error().
			Err(err).
			Str("eventID", event.EventID).
			Msg("failed to enqueue topup.settled webhook")
	}
}

// DeliveryConfirmed queues a hire.delivery_confirmed webhook for persistent delivery.
func (c *PersistentCallbackClient) DeliveryConfirmed(ctx context.Context, event DeliveryConfirmedEvent) {
	if c == nil || c.worker == nil {
		return
	}

	if err := c.worker.EnqueueDeliveryConfirmedWebhook(ctx, event); err != nil {
		c.logger.Error().
			Err(err).
			Str("eventID", event.EventID).
			Msg("failed to enqueue hire.delivery_confirmed webhook")
	}
}

// Close gracefully stops the webhook worker.
func (c *PersistentCallbackClient) Close() error {
	if c == nil || c.worker == nil {
		return nil
	}

	c.worker.Stop()
	return nil
}
