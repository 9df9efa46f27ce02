// Package withdraw implements the "collect" operation (spec.md §6
// `POST …/collect`): a prepaid account holder cashes out their balance to
// an invoice of their own choosing. It is the mirror image of
// internal/topup's deposit flow, using the same debit-before-pay ordering
// internal/hire uses for escrow so a failed payout never loses funds.
package withdraw

import (
	"context"

	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/ledger"
	"github.com/l402gate/server/internal/lightning"
)

// Result is returned to the caller on a successful withdrawal.
type Result struct {
	PaymentHash  string
	FeesSats     int64
	BalanceSats  int64
}

// Flow pays a ledger-backed account's requested amount out to a
// caller-supplied Lightning invoice.
type Flow struct {
	ledger    *ledger.Ledger
	lightning *lightning.Client
}

// New builds a Flow.
func New(l *ledger.Ledger, lc *lightning.Client) *Flow {
	return &Flow{ledger: l, lightning: lc}
}

// Collect debits amountSats from accountID, then pays bolt11 for that
// amount. The account is debited before the Lightning call so a node
// outage never leaves the gateway owing more than its ledger reflects; if
// the payment itself fails, the debit is reversed with a credit of the
// same amount so the caller's balance is restored exactly.
func (f *Flow) Collect(ctx context.Context, accountID string, amountSats int64, bolt11 string) (*Result, error) {
	if amountSats <= 0 {
		return nil, apierr.InvalidRequest("amount_sats must be positive")
	}
	if bolt11 == "" {
		return nil, apierr.InvalidRequest("invoice is required")
	}

	balanceAfterDebit, err := f.ledger.Debit(ctx, accountID, amountSats, "hire:collect")
	if err != nil {
		return nil, err
	}

	payment, err := f.lightning.PayInvoice(ctx, bolt11)
	if err != nil {
		refundedBalance, creditErr := f.ledger.Credit(ctx, accountID, amountSats)
		if creditErr != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "payout failed and refund could not be recorded", creditErr)
		}
		_ = refundedBalance
		return nil, apierr.Wrap(apierr.CodeUpstreamError, "payout failed, balance refunded", err)
	}

	return &Result{PaymentHash: payment.PaymentHash, FeesSats: payment.FeesSats, BalanceSats: balanceAfterDebit}, nil
}
