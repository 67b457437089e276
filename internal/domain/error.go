package domain

import (
	"errors"
	"fmt"
)

var (
	// Storage and infrastructure errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLockNotAcquired    = errors.New("lock not acquired")

	// Payment domain errors
	ErrInvalidState     = errors.New("invalid state transition")
	ErrGatewayTimeout   = errors.New("payment gateway timed out")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInexactAmount    = errors.New("amount is not representable in minor units")
	ErrRateLimited      = errors.New("too many attempts")
	ErrEventOutOfOrder  = errors.New("webhook event arrived before the status it follows")
)

// Kind classifies errors that are reported back to API callers.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindDiscount           Kind = "DiscountError"
	KindPayment            Kind = "PaymentError"
	KindSubscription       Kind = "SubscriptionError"
	KindUnsupportedGateway Kind = "UnsupportedGatewayError"
)

// Kind sentinels; errors.Is(err, ErrPayment) matches any payment error.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrDiscount           = &Error{Kind: KindDiscount}
	ErrPayment            = &Error{Kind: KindPayment}
	ErrSubscription       = &Error{Kind: KindSubscription}
	ErrUnsupportedGateway = &Error{Kind: KindUnsupportedGateway}
)

// Error is a classified domain error. Msg is safe to show to callers; Err is the cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels (no message, no cause) by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Msg != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func ValidationError(format string, args ...any) error {
	return newError(KindValidation, ErrInvalidArgument, format, args...)
}

func DiscountError(cause error, format string, args ...any) error {
	return newError(KindDiscount, cause, format, args...)
}

func PaymentError(cause error, format string, args ...any) error {
	return newError(KindPayment, cause, format, args...)
}

func SubscriptionError(cause error, format string, args ...any) error {
	return newError(KindSubscription, cause, format, args...)
}

func UnsupportedGatewayError(format string, args ...any) error {
	return newError(KindUnsupportedGateway, nil, format, args...)
}

// KindOf returns the classification of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// MessageOf returns the caller-safe message of a domain error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Msg != "" {
			return de.Msg
		}
		return string(de.Kind)
	}
	return ""
}

// IsRetryable reports whether the operation may succeed when repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayTimeout) || errors.Is(err, ErrLockNotAcquired) || errors.Is(err, ErrEventOutOfOrder)
}
