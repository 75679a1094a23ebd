// Package apperr defines the error kinds shared by the settlement domain.
//
// Every domain failure is an *Error carrying one of the kind sentinels below,
// so callers branch with errors.Is(err, apperr.ErrConflict) regardless of how
// many times the error was wrapped on its way up.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind sentinels.
var (
	// ErrValidation marks malformed or insufficient input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing customer, product, order, coupon or payment.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a clash with current state of record: duplicate
	// coupon code, stock exhausted at commit time, coupon already used.
	ErrConflict = errors.New("conflict")
	// ErrState marks an illegal order state transition.
	ErrState = errors.New("illegal state")
	// ErrAuthorization marks a caller lacking the capability for an operation.
	ErrAuthorization = errors.New("not authorized")
)

// Error is a domain error of a specific kind.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind sentinel to errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation returns a validation error.
func Validation(format string, args ...any) error { return newf(ErrValidation, format, args...) }

// NotFound returns a not-found error.
func NotFound(format string, args ...any) error { return newf(ErrNotFound, format, args...) }

// Conflict returns a conflict error.
func Conflict(format string, args ...any) error { return newf(ErrConflict, format, args...) }

// State returns an illegal-state error.
func State(format string, args ...any) error { return newf(ErrState, format, args...) }

// Authorization returns an authorization error.
func Authorization(format string, args ...any) error {
	return newf(ErrAuthorization, format, args...)
}

// KindOf returns the kind sentinel of err, or nil for errors outside the
// taxonomy.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
