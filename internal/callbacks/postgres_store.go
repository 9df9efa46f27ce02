package callbacks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists the webhook delivery queue in the same database as
// the account ledger, so a restart never silently drops a settled top-up or
// delivery-confirmation notification.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection and ensures the webhook
// queue table exists.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.createTable(ctx); err != nil {
		return nil, fmt.Errorf("create webhook_queue table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_queue (
			id              TEXT PRIMARY KEY,
			url             TEXT NOT NULL,
			payload         JSONB NOT NULL,
			headers         JSONB NOT NULL DEFAULT '{}',
			event_type      TEXT NOT NULL,
			status          TEXT NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			max_attempts    INTEGER NOT NULL,
			last_error      TEXT NOT NULL DEFAULT '',
			next_attempt_at TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_queue_pending
			ON webhook_queue (next_attempt_at)
			WHERE status IN ('pending', 'failed');
	`)
	return err
}

func (s *PostgresStore) EnqueueWebhook(ctx context.Context, webhook PendingWebhook) (string, error) {
	if webhook.ID == "" {
		webhook.ID = generateWebhookID()
	}

	headers, err := json.Marshal(webhook.Headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_queue
			(id, url, payload, headers, event_type, status, attempts, max_attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, webhook.ID, webhook.URL, webhook.Payload, headers, webhook.EventType,
		WebhookStatusPending, webhook.Attempts, webhook.MaxAttempts, webhook.NextAttemptAt, webhook.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert webhook: %w", err)
	}

	return webhook.ID, nil
}

// DequeueWebhooks claims up to limit due webhooks (pending or failed with an
// elapsed backoff) for delivery.
func (s *PostgresStore) DequeueWebhooks(ctx context.Context, limit int) ([]PendingWebhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, payload, headers, event_type, attempts, max_attempts, next_attempt_at, created_at
		FROM webhook_queue
		WHERE status IN ('pending', 'failed') AND attempts < max_attempts AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
	`, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []PendingWebhook
	for rows.Next() {
		var w PendingWebhook
		var headers []byte
		if err := rows.Scan(&w.ID, &w.URL, &w.Payload, &headers, &w.EventType,
			&w.Attempts, &w.MaxAttempts, &w.NextAttemptAt, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook row: %w", err)
		}
		if err := json.Unmarshal(headers, &w.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (s *PostgresStore) MarkWebhookProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_queue SET status = $1 WHERE id = $2
	`, WebhookStatusProcessing, id)
	if err != nil {
		return fmt.Errorf("mark webhook processing: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) MarkWebhookSuccess(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_queue SET status = $1, attempts = attempts + 1 WHERE id = $2
	`, WebhookStatusSuccess, id)
	if err != nil {
		return fmt.Errorf("mark webhook success: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) MarkWebhookFailed(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_queue
		SET status = $1, attempts = attempts + 1, last_error = $2, next_attempt_at = $3
		WHERE id = $4
	`, WebhookStatusFailed, lastError, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("mark webhook failed: %w", err)
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("webhook not found")
	}
	return nil
}
