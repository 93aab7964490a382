// Package apperr defines the error taxonomy shared by every component.
//
// Components never return raw database or transport errors across their
// boundary; they wrap them in an *Error with one of the Kinds below so the
// HTTP boundary (see pkg/httpapi) can make a single, uniform decision about
// status codes and response bodies.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error independent of transport.
type Kind string

const (
	Unauthenticated   Kind = "unauthenticated"
	Forbidden         Kind = "forbidden"
	NotFound          Kind = "not_found"
	Conflict          Kind = "conflict"
	InvalidInput      Kind = "invalid_input"
	Throttled         Kind = "throttled"
	ProviderExhausted Kind = "provider_exhausted"
	Cancelled         Kind = "cancelled"
	Transient         Kind = "transient"
	Fatal             Kind = "fatal"
)

// Error is the internal error carried between components.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a Kind and message to an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or one of its wrapped causes) carries kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok && ae.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Fatal for unrecognized
// errors so nothing silently leaks as a 200.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if ae, ok := err.(*Error); ok {
		return ae.Kind
	}
	return Fatal
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func InvalidInputf(format string, args ...interface{}) *Error {
	return New(InvalidInput, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...interface{}) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}
