// Package apperr holds the business error taxonomy shared by the stock,
// reservation and planning packages. The HTTP layer maps each Kind to a
// status code; anything that is not an *Error is treated as a server fault.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation                 Kind = "VALIDATION"
	KindInsufficientStock          Kind = "INSUFFICIENT_STOCK"
	KindInsufficientAvailableStock Kind = "INSUFFICIENT_AVAILABLE_STOCK"
	KindConflict                   Kind = "CONFLICT"
	KindNotFound                   Kind = "NOT_FOUND"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

func InsufficientStock(format string, args ...any) *Error {
	return newf(KindInsufficientStock, format, args...)
}

func InsufficientAvailableStock(format string, args ...any) *Error {
	return newf(KindInsufficientAvailableStock, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

// Wrap attaches a cause while keeping the business kind.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Message returns the client facing message of a business error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
