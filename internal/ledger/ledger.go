// Package ledger implements the C5 account ledger (spec.md §4.5): prepaid,
// token-identified accounts with a sats balance, transactional debit/credit,
// and a usage log. Token plaintext is minted once and never persisted; only
// its SHA-256 hash is stored, so a lost token means a lost account.
package ledger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/metrics"
	"github.com/l402gate/server/internal/observability"
)

// tokenBytes is chosen so the base64url encoding lands on spec.md's 43-byte
// opaque bearer token (32 raw bytes -> 43 base64url characters, no padding).
const tokenBytes = 32

// Ledger is the account ledger backed by a single shared Postgres pool.
type Ledger struct {
	db       *sql.DB
	metrics  *metrics.Metrics
	registry *observability.Registry
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithMetrics wires Prometheus observation into every ledger operation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithObservability wires ledger lifecycle events into the hook registry.
func WithObservability(reg *observability.Registry) Option {
	return func(l *Ledger) { l.registry = reg }
}

// New builds a Ledger against db, which must already have the accounts/
// usage_log schema applied (see EnsureSchema).
func New(db *sql.DB, opts ...Option) *Ledger {
	l := &Ledger{db: db}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureSchema creates the accounts and usage_log tables if they do not
// already exist, matching spec.md §6's persistent schema and invariant I1
// (balance_sats >= 0 enforced by a check constraint, not just application code).
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL UNIQUE,
			balance_sats BIGINT NOT NULL DEFAULT 0 CHECK (balance_sats >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS usage_log (
			id BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			endpoint TEXT NOT NULL,
			amount_sats BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS usage_log_account_created_idx ON usage_log (account_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: apply schema: %w", err)
		}
	}
	return nil
}

// hashToken returns the hex-encoded SHA-256 of a plaintext bearer token.
// Token plaintext never reaches storage; only this hash does.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateToken mints a fresh 43-character URL-safe opaque bearer token.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ledger: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateAccount mints a new account with a zero balance and returns its id
// alongside the one-time plaintext token. The caller must display or store
// the token themselves; the ledger never returns it again.
func (l *Ledger) CreateAccount(ctx context.Context) (accountID, tokenPlaintext string, err error) {
	token, err := generateToken()
	if err != nil {
		return "", "", err
	}

	id := "acct_" + uuid.NewString()
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO accounts (id, token_hash, balance_sats) VALUES ($1, $2, 0)`,
		id, hashToken(token),
	)
	if err != nil {
		return "", "", apierr.Wrap(apierr.CodeInternal, "create account", err)
	}
	return id, token, nil
}

// AccountIDByToken resolves a plaintext bearer token to its account id.
func (l *Ledger) AccountIDByToken(ctx context.Context, token string) (string, error) {
	var id string
	err := l.db.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE token_hash = $1`,
		hashToken(token),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", apierr.New(apierr.CodeInvalidToken, "unknown or invalid token")
	}
	if err != nil {
		return "", apierr.Wrap(apierr.CodeInternal, "look up account by token", err)
	}
	return id, nil
}

// Debit locks the account row, rejects the call if the balance is
// insufficient, and otherwise records the debit and a usage-log entry in the
// same transaction, per spec.md §4.5 and invariant I1 (balance never goes
// negative).
func (l *Ledger) Debit(ctx context.Context, accountID string, amountSats int64, endpointLabel string) (newBalance int64, err error) {
	if amountSats <= 0 {
		return 0, apierr.New(apierr.CodeInvalidRequest, "debit amount must be positive")
	}

	start := time.Now()
	defer func() {
		if l.metrics != nil {
			l.metrics.ObserveDebit(endpointLabel, amountSats, err == nil)
			l.metrics.ObserveDBQuery("debit", "postgres", time.Since(start))
		}
	}()

	tx, txErr := l.db.BeginTx(ctx, nil)
	if txErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "begin debit transaction", txErr)
	}
	defer tx.Rollback()

	var balance int64
	scanErr := tx.QueryRowContext(ctx,
		`SELECT balance_sats FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance)
	if scanErr == sql.ErrNoRows {
		return 0, apierr.New(apierr.CodeAccountRequired, "unknown account")
	}
	if scanErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "lock account row", scanErr)
	}

	if balance < amountSats {
		return 0, apierr.InsufficientBalance(balance, amountSats)
	}

	newBalance = balance - amountSats
	if _, execErr := tx.ExecContext(ctx,
		`UPDATE accounts SET balance_sats = $1, updated_at = now() WHERE id = $2`,
		newBalance, accountID,
	); execErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "apply debit", execErr)
	}

	if _, execErr := tx.ExecContext(ctx,
		`INSERT INTO usage_log (account_id, endpoint, amount_sats) VALUES ($1, $2, $3)`,
		accountID, endpointLabel, amountSats,
	); execErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "write usage log", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "commit debit transaction", commitErr)
	}

	if l.registry != nil {
		l.registry.EmitDebitSettled(ctx, observability.DebitSettledEvent{
			Timestamp:    time.Now(),
			AccountID:    accountID,
			Endpoint:     endpointLabel,
			AmountSats:   amountSats,
			Success:      true,
			BalanceAfter: newBalance,
		})
	}
	return newBalance, nil
}

// Credit adds amountSats to the account's balance. There is no upper bound
// and, unlike Debit, no lower-bound check: credits only ever increase
// balance_sats, which can't threaten invariant I1.
func (l *Ledger) Credit(ctx context.Context, accountID string, amountSats int64) (newBalance int64, err error) {
	if amountSats <= 0 {
		return 0, apierr.New(apierr.CodeInvalidRequest, "credit amount must be positive")
	}

	start := time.Now()
	defer func() {
		if l.metrics != nil {
			l.metrics.ObserveDBQuery("credit", "postgres", time.Since(start))
		}
	}()

	tx, txErr := l.db.BeginTx(ctx, nil)
	if txErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "begin credit transaction", txErr)
	}
	defer tx.Rollback()

	var balance int64
	scanErr := tx.QueryRowContext(ctx,
		`SELECT balance_sats FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance)
	if scanErr == sql.ErrNoRows {
		return 0, apierr.New(apierr.CodeAccountRequired, "unknown account")
	}
	if scanErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "lock account row", scanErr)
	}

	newBalance = balance + amountSats
	if _, execErr := tx.ExecContext(ctx,
		`UPDATE accounts SET balance_sats = $1, updated_at = now() WHERE id = $2`,
		newBalance, accountID,
	); execErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "apply credit", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "commit credit transaction", commitErr)
	}

	return newBalance, nil
}

// GetInfo returns the current balance of an account.
func (l *Ledger) GetInfo(ctx context.Context, accountID string) (balanceSats int64, err error) {
	scanErr := l.db.QueryRowContext(ctx,
		`SELECT balance_sats FROM accounts WHERE id = $1`,
		accountID,
	).Scan(&balanceSats)
	if scanErr == sql.ErrNoRows {
		return 0, apierr.New(apierr.CodeAccountRequired, "unknown account")
	}
	if scanErr != nil {
		return 0, apierr.Wrap(apierr.CodeInternal, "read account balance", scanErr)
	}
	return balanceSats, nil
}

// DB exposes the underlying pool so other components sharing the connection
// budget (e.g. internal/hire) can run their own transactions against the same
// accounts table with a consistent lock order.
func (l *Ledger) DB() *sql.DB {
	return l.db
}
