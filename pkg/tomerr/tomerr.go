// Package tomerr implements the error taxonomy shared by every layer of
// Tom: a stable Kind label for client contracts, a retry hint for the
// worker's fail() accounting, and an HTTP status mapping for the
// controller.
package tomerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable error-kind label surfaced to clients.
type Kind string

const (
	Validation        Kind = "VALIDATION"
	AuthRequired      Kind = "AUTH_REQUIRED"
	AuthDenied        Kind = "AUTH_DENIED"
	NotFound          Kind = "NOT_FOUND"
	TemplateNotFound  Kind = "TEMPLATE_NOT_FOUND"
	ParseError        Kind = "PARSE_ERROR"
	GatingError       Kind = "GATING_ERROR"
	TransportError    Kind = "TRANSPORT_ERROR"
	AuthFailure       Kind = "AUTH_FAILURE"
	TimeoutError      Kind = "TIMEOUT_ERROR"
	Internal          Kind = "INTERNAL"
)

// RetryHint classifies whether a worker should retry the job that
// produced this error.
type RetryHint string

const (
	Transient RetryHint = "TRANSIENT"
	Fatal     RetryHint = "FATAL"
	NoRetry   RetryHint = ""
)

// Error is the typed error carried through Tom's layers.
type Error struct {
	Kind    Kind
	Retry   RetryHint
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

// HTTPStatus maps the error's Kind to the status code named in §7 of the
// spec.
func (e *Error) HTTPStatus() int {
	return StatusForKind(e.Kind)
}

// StatusForKind maps any Kind to its §7 HTTP status code, independent of
// a live *Error value. It exists for call sites rendering a Kind stored
// on a JobError after the originating *Error has already been discarded
// (e.g. a FAILED job's raw_output rendering).
func StatusForKind(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case AuthRequired:
		return http.StatusUnauthorized
	case AuthDenied:
		return http.StatusForbidden
	case NotFound, TemplateNotFound:
		return http.StatusNotFound
	case ParseError:
		return http.StatusUnprocessableEntity
	case TransportError:
		return http.StatusBadGateway
	case AuthFailure:
		return http.StatusBadGateway
	case TimeoutError:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func newErr(kind Kind, retry RetryHint, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Retry: retry, Message: fmt.Sprintf(format, args...)}
}

func ValidationError(format string, args ...interface{}) *Error {
	return newErr(Validation, NoRetry, format, args...)
}

func AuthRequiredError(format string, args ...interface{}) *Error {
	return newErr(AuthRequired, NoRetry, format, args...)
}

func AuthDeniedError(format string, args ...interface{}) *Error {
	return newErr(AuthDenied, NoRetry, format, args...)
}

func NotFoundError(format string, args ...interface{}) *Error {
	return newErr(NotFound, NoRetry, format, args...)
}

func TemplateNotFoundError(format string, args ...interface{}) *Error {
	return newErr(TemplateNotFound, NoRetry, format, args...)
}

func ParseFailure(cause error, format string, args ...interface{}) *Error {
	e := newErr(ParseError, NoRetry, format, args...)
	e.Cause = cause
	return e
}

func GatingFailure(format string, args ...interface{}) *Error {
	return newErr(GatingError, Transient, format, args...)
}

func TransportFailure(cause error, format string, args ...interface{}) *Error {
	e := newErr(TransportError, Transient, format, args...)
	e.Cause = cause
	return e
}

func AuthFailureError(cause error, format string, args ...interface{}) *Error {
	e := newErr(AuthFailure, Fatal, format, args...)
	e.Cause = cause
	return e
}

func TimeoutFailure(format string, args ...interface{}) *Error {
	return newErr(TimeoutError, Transient, format, args...)
}

func InternalError(cause error, format string, args ...interface{}) *Error {
	e := newErr(Internal, NoRetry, format, args...)
	e.Cause = cause
	return e
}

// As recovers a *Error from any wrapped error chain, or reports ok=false.
func As(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
