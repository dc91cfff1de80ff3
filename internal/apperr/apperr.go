package apperr

import (
	"errors"
	"fmt"
)

// Kind is the symbolic error code surfaced to API clients.
type Kind string

const (
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindUnauthenticated  Kind = "UNAUTHENTICATED"
	KindUnauthorized     Kind = "UNAUTHORIZED"
	KindUnverified       Kind = "UNVERIFIED"
	KindDisabled         Kind = "DISABLED"
	KindNotFound         Kind = "NOT_FOUND"
	KindAlreadyExists    Kind = "ALREADY_EXISTS"
	KindAlreadyConnected Kind = "ALREADY_CONNECTED"
	KindNotConnected     Kind = "NOT_CONNECTED"
	KindNoCapacity       Kind = "NO_CAPACITY"
	KindAddressExhausted Kind = "ADDRESS_EXHAUSTED"
	KindPremiumRequired  Kind = "PREMIUM_REQUIRED"
	KindPaymentFailed    Kind = "PAYMENT_FAILED"
	KindRateLimited      Kind = "RATE_LIMITED"
	KindBanned           Kind = "BANNED"
	KindTimeout          Kind = "TIMEOUT"
	KindDependencyDown   Kind = "DEPENDENCY_DOWN"
	KindInternal         Kind = "INTERNAL"
)

// Error carries a symbolic kind, a client-safe message and optional details.
// Wrapped causes stay server-side; HTTP layer only renders Kind/Message/Details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause. The cause is never shown to clients.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetail adds a key to the details map and returns the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the kind from an error chain, defaulting to Internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsError returns the *Error in the chain, or a generic Internal wrapper.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(KindInternal, "internal error", err)
}
