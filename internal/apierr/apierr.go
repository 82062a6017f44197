// Package apierr classifies errors into the taxonomy HTTP handlers and the
// dispatcher both need: validation, authorization, not-found, conflict,
// dependency, invariant, or a residual internal bucket.
package apierr

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// Kind is one member of the error taxonomy.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindDependency   Kind = "dependency"
	KindInvariant    Kind = "invariant"
	KindInternal     Kind = "internal"
)

// HTTPStatus maps a Kind to the status code handlers should return.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return 400
	case KindAuthorization:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindDependency:
		return 502
	default:
		return 500
	}
}

// Error pairs a Kind with a message and, for validation errors, a list of
// field-level problems.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	cause   error
}

// FieldError is one {path, message} entry in a validation error response.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a classified Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause and attaches message.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Validation builds a KindValidation error carrying field problems.
func Validation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// Classify maps a raw error (often straight from the persistence layer)
// into a Kind, following the same pq.Error.Code switch the teacher's
// repository layer uses for its own error metrics labels.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return KindConflict
		case "23503", "23502", "23514": // fk / not-null / check
			return KindValidation
		case "40001": // serialization_failure
			return KindConflict
		}
		return KindDependency
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindDependency
	case strings.Contains(err.Error(), "UNIQUE constraint"):
		return KindConflict
	case strings.Contains(err.Error(), "NOT NULL constraint"), strings.Contains(err.Error(), "CHECK constraint"):
		return KindValidation
	default:
		return KindInternal
	}
}

// IsRetryable reports whether err represents a transient database or
// network condition worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "53000", "53200", "53300", "58000", "58030":
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "timeout")
}
