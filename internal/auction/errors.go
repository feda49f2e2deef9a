package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/auctionroom/internal/store"
)

// Kind is the machine readable error class returned to callers.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotActive         Kind = "not_active"
	KindConflict          Kind = "conflict"
	KindStateConflict     Kind = "state_conflict"
	KindAuthorization     Kind = "authorization"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindTransient         Kind = "transient"
)

// Error is the only error type the engine returns to callers.
type Error struct {
	Kind    Kind
	Message string
	// NextMinimum is set on validation and conflict errors for bids.
	NextMinimum *decimal.Decimal
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindTransient for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func bidTooLow(next decimal.Decimal) *Error {
	e := newError(KindValidation, "bid must be at least %s", next.StringFixed(2))
	e.NextMinimum = &next
	return e
}

func bidConflict(next decimal.Decimal) *Error {
	e := newError(KindConflict, "another bid was accepted first; bid must now be at least %s", next.StringFixed(2))
	e.NextMinimum = &next
	return e
}

func notActive(format string, args ...any) *Error {
	return newError(KindNotActive, format, args...)
}

func stateConflict(format string, args ...any) *Error {
	return newError(KindStateConflict, format, args...)
}

func forbidden(format string, args ...any) *Error {
	return newError(KindAuthorization, format, args...)
}

func notFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

// storeError classifies an error coming out of the store or a collaborator.
// Errors already classified by the engine pass through unchanged.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: op + ": not found", Err: err}
	case errors.Is(err, store.ErrBusy):
		return &Error{Kind: KindStateConflict, Message: op + ": auction is busy, retry shortly", Err: err}
	default:
		return &Error{Kind: KindTransient, Message: op + " failed", Err: err}
	}
}
