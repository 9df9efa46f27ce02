// Package topup implements the C6 top-up flow (spec.md §4.6): minting a
// Lightning invoice against an optional existing account, then crediting the
// resolved account once the invoice is proven paid by presenting its
// preimage.
package topup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/callbacks"
	"github.com/l402gate/server/internal/l402hash"
	"github.com/l402gate/server/internal/ledger"
	"github.com/l402gate/server/internal/lightning"
	"github.com/l402gate/server/internal/observability"
)

// invoiceLifetime is the default validity window returned as expires_in on
// the 402 challenge, matching spec.md §4.4's default Lightning invoice TTL.
const invoiceLifetime = 10 * time.Minute

// Invoice is the pending top-up handed back in the 402 challenge body.
type Invoice struct {
	PaymentHash      string
	SerializedBolt11 string
	AmountSats       int64
	ExpiresIn        int64 // seconds
}

// ClaimResult is returned once a top-up has been credited.
type ClaimResult struct {
	AccountID    string
	Token        string // present only when a new account was minted
	BalanceSats  int64
}

// Flow wires the Lightning client and account ledger together into the
// top-up lifecycle.
type Flow struct {
	db       *sql.DB
	lightning *lightning.Client
	ledger   *ledger.Ledger
	notifier callbacks.Notifier
	registry *observability.Registry
	lifetime time.Duration
}

// Option configures a Flow at construction.
type Option func(*Flow)

// WithNotifier wires outbound webhook delivery for settled top-ups.
func WithNotifier(n callbacks.Notifier) Option {
	return func(f *Flow) { f.notifier = n }
}

// WithObservability wires top-up lifecycle events into the hook registry.
func WithObservability(reg *observability.Registry) Option {
	return func(f *Flow) { f.registry = reg }
}

// WithInvoiceLifetime overrides the default invoice expiry hint.
func WithInvoiceLifetime(d time.Duration) Option {
	return func(f *Flow) { f.lifetime = d }
}

// New builds a Flow.
func New(db *sql.DB, lc *lightning.Client, l *ledger.Ledger, opts ...Option) *Flow {
	f := &Flow{db: db, lightning: lc, ledger: l, notifier: callbacks.NoopNotifier{}, lifetime: invoiceLifetime}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// EnsureSchema creates the topup_invoices table if it does not already exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS topup_invoices (
			payment_hash TEXT PRIMARY KEY,
			account_id TEXT,
			amount_sats BIGINT NOT NULL CHECK (amount_sats > 0),
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'paid', 'expired')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS topup_invoices_payment_hash_idx ON topup_invoices (payment_hash)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("topup: apply schema: %w", err)
		}
	}
	return nil
}

// Create asks the Lightning node for an invoice and persists a pending
// TopupInvoice row, binding it to an account if the caller already holds a
// bearer token.
func (f *Flow) Create(ctx context.Context, amountSats int64, token string) (*Invoice, error) {
	if amountSats <= 0 {
		return nil, apierr.New(apierr.CodeInvalidRequest, "amount_sats must be positive")
	}

	var accountID string
	hasToken := token != ""
	if hasToken {
		id, err := f.ledger.AccountIDByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		accountID = id
	}

	inv, err := f.lightning.CreateInvoice(ctx, amountSats, "gateway top-up")
	if err != nil {
		return nil, err
	}

	_, err = f.db.ExecContext(ctx,
		`INSERT INTO topup_invoices (payment_hash, account_id, amount_sats, status) VALUES ($1, $2, $3, 'pending')`,
		inv.PaymentHash, nullableString(accountID), amountSats,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "persist topup invoice", err)
	}

	if f.registry != nil {
		f.registry.EmitTopupCreated(ctx, observability.TopupCreatedEvent{
			Timestamp:   time.Now(),
			PaymentHash: inv.PaymentHash,
			AmountSats:  amountSats,
			HasToken:    hasToken,
		})
	}

	return &Invoice{
		PaymentHash:      inv.PaymentHash,
		SerializedBolt11: inv.SerializedBolt11,
		AmountSats:       amountSats,
		ExpiresIn:        int64(f.lifetime.Seconds()),
	}, nil
}

// Claim proves payment of a pending invoice by preimage and credits the
// resolved account, per spec.md §4.6's four-branch account resolution.
func (f *Flow) Claim(ctx context.Context, preimageHex, token string) (result *ClaimResult, err error) {
	paymentHash, err := l402hash.HashOf(preimageHex)
	if err != nil {
		return nil, err
	}

	tx, txErr := f.db.BeginTx(ctx, nil)
	if txErr != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "begin claim transaction", txErr)
	}
	defer tx.Rollback()

	var invoiceAccountID sql.NullString
	var amountSats int64
	var status string
	scanErr := tx.QueryRowContext(ctx,
		`SELECT account_id, amount_sats, status FROM topup_invoices WHERE payment_hash = $1 FOR UPDATE`,
		paymentHash,
	).Scan(&invoiceAccountID, &amountSats, &status)
	if scanErr == sql.ErrNoRows {
		return nil, apierr.New(apierr.CodeInvalidPayment, "no top-up invoice for this preimage")
	}
	if scanErr != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "lock topup invoice row", scanErr)
	}
	if status != "pending" {
		return nil, apierr.New(apierr.CodePaymentAlreadyUsed, "top-up invoice already claimed")
	}

	var tokenAccountID string
	hasToken := token != ""
	if hasToken {
		id, resolveErr := f.ledger.AccountIDByToken(ctx, token)
		if resolveErr != nil {
			return nil, resolveErr
		}
		tokenAccountID = id
	}

	var resolvedAccountID string
	var mintedToken string
	switch {
	case invoiceAccountID.Valid && hasToken:
		if invoiceAccountID.String != tokenAccountID {
			return nil, apierr.New(apierr.CodeInvalidPayment, "token does not match invoice's bound account")
		}
		resolvedAccountID = invoiceAccountID.String
	case invoiceAccountID.Valid && !hasToken:
		resolvedAccountID = invoiceAccountID.String
	case !invoiceAccountID.Valid && hasToken:
		resolvedAccountID = tokenAccountID
	default:
		id, plaintext, mintErr := f.ledger.CreateAccount(ctx)
		if mintErr != nil {
			return nil, mintErr
		}
		resolvedAccountID = id
		mintedToken = plaintext
	}

	if _, execErr := tx.ExecContext(ctx,
		`UPDATE topup_invoices SET status = 'paid' WHERE payment_hash = $1`,
		paymentHash,
	); execErr != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "mark invoice paid", execErr)
	}

	// Credit within the same transaction as marking the invoice paid, per
	// spec.md §4.6's "in one transaction" requirement, rather than going
	// through ledger.Credit (which would open a second transaction and
	// leave a window where the invoice is paid but uncredited on crash).
	// The account row already exists by this point in every branch: either
	// resolved from the invoice/token, or just inserted by
	// ledger.CreateAccount above.
	var newBalance int64
	scanErr = tx.QueryRowContext(ctx,
		`SELECT balance_sats FROM accounts WHERE id = $1 FOR UPDATE`,
		resolvedAccountID,
	).Scan(&newBalance)
	if scanErr != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "lock account row for credit", scanErr)
	}
	newBalance += amountSats
	if _, execErr := tx.ExecContext(ctx,
		`UPDATE accounts SET balance_sats = $1, updated_at = now() WHERE id = $2`,
		newBalance, resolvedAccountID,
	); execErr != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "credit account", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "commit claim transaction", commitErr)
	}

	if f.registry != nil {
		f.registry.EmitTopupClaimed(ctx, observability.TopupClaimedEvent{
			Timestamp:    time.Now(),
			AccountID:    resolvedAccountID,
			AmountSats:   amountSats,
			BalanceAfter: newBalance,
		})
	}

	f.notifier.TopupSettled(ctx, callbacks.TopupSettledEvent{
		AccountID:    resolvedAccountID,
		Token:        mintedToken,
		PaymentHash:  paymentHash,
		AmountSats:   amountSats,
		BalanceAfter: newBalance,
		SettledAt:    time.Now(),
	})

	return &ClaimResult{
		AccountID:   resolvedAccountID,
		Token:       mintedToken,
		BalanceSats: newBalance,
	}, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
