package apierr

import "fmt"

// Error is the tagged sum spec.md §9 calls for: a single Go error type
// carrying a Code plus optional structured details, mapped once at the
// HTTP boundary instead of sprinkling status codes through the call stack.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving it
// for %w-style unwrapping and logging while still presenting a clean
// client-facing message.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy of the error carrying the given detail map,
// e.g. InsufficientBalance{balance, required} from spec.md §9.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// NotFound, Forbidden, InvalidState, InvalidRequest are the most common
// constructors used throughout ledger/hire/topup.
func NotFound(message string) *Error       { return New(CodeNotFound, message) }
func Forbidden(message string) *Error      { return New(CodeForbidden, message) }
func InvalidState(message string) *Error   { return New(CodeInvalidState, message) }
func InvalidRequest(message string) *Error { return New(CodeInvalidRequest, message) }

// InsufficientBalance carries the account's current balance and the amount
// that was required, per spec.md §4.5 "typed InsufficientBalance".
func InsufficientBalance(balance, required int64) *Error {
	return New(CodeInsufficientBal, "insufficient balance").WithDetails(map[string]any{
		"balance":  balance,
		"required": required,
	})
}

// As extracts an *Error from err, following the Unwrap chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// CodeOf returns the Code of err if it is (or wraps) an *Error, else
// CodeInternal.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}
