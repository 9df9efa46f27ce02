// Package apierr defines the gateway's tagged error kinds and maps them to
// HTTP status codes and the client-facing JSON envelope.
package apierr

// Code is a machine-readable error identifier (spec.md §7).
type Code string

const (
	CodeInvalidRequest     Code = "invalid_request"
	CodeInvalidPayment     Code = "invalid_payment"
	CodePaymentAlreadyUsed Code = "payment_already_used"
	CodeInvalidToken       Code = "invalid_token"
	CodeInvalidL402        Code = "invalid_l402"
	CodeAccountRequired    Code = "account_required"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodePaymentRequired    Code = "payment_required"
	CodeInsufficientPay    Code = "insufficient_payment"
	CodeInsufficientBal    Code = "insufficient_balance"
	CodeInvalidState       Code = "invalid_state"
	CodeRequestTooLarge    Code = "request_too_large"
	CodeDailyLimitReached  Code = "daily_limit_reached"
	CodeUpstreamError      Code = "upstream_error"
	CodePhoenixUnavailable Code = "phoenix_unavailable"
	CodeTopupUnavailable   Code = "topup_unavailable"
	CodeHireUnavailable    Code = "hire_unavailable"
	CodeInternal           Code = "internal_error"
)

// HTTPStatus returns the status code the gateway's HTTP surface (C10) uses
// for this error kind.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidRequest, CodeInvalidPayment, CodePaymentAlreadyUsed:
		return 400
	case CodeInvalidToken, CodeInvalidL402, CodeAccountRequired:
		return 401
	case CodePaymentRequired, CodeInsufficientPay, CodeInsufficientBal:
		return 402
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodeInvalidState:
		return 409
	case CodeRequestTooLarge:
		return 413
	case CodeDailyLimitReached:
		return 429
	case CodeUpstreamError:
		return 502
	case CodePhoenixUnavailable, CodeTopupUnavailable, CodeHireUnavailable:
		return 503
	default:
		return 500
	}
}

// Retryable reports whether the client should expect a retry of the same
// request to plausibly succeed without changing anything.
func (c Code) Retryable() bool {
	switch c {
	case CodeUpstreamError, CodePhoenixUnavailable, CodeTopupUnavailable, CodeHireUnavailable:
		return true
	default:
		return false
	}
}
