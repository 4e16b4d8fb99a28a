// Package apierr defines the error kinds surfaced by the API and their
// HTTP status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Every *Error wraps exactly one of these.
var (
	// ErrValidation covers malformed input, unknown keys and duplicate unique fields.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a principal, role, permission or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated is returned for a missing, invalid or expired token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when an authenticated user lacks the capability.
	ErrForbidden = errors.New("forbidden")

	// ErrInternal marks unexpected persistence failures.
	ErrInternal = errors.New("internal error")
)

// Error carries a kind, a user-facing message and optional field detail.
type Error struct {
	Kind    error               // One of the sentinel kinds
	Message string              // Message rendered in the response envelope
	Fields  map[string][]string // Field-level validation detail
	Data    interface{}         // Extra payload rendered as envelope data
	Err     error               // Underlying cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error's kind as well as its cause chain.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// WithField appends a field-level message.
func (e *Error) WithField(field, message string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
	return e
}

// WithData attaches a payload rendered alongside the message.
func (e *Error) WithData(data interface{}) *Error {
	e.Data = data
	return e
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return &Error{Kind: ErrValidation, Message: message}
}

// NotFound creates a not-found error.
func NotFound(message string) *Error {
	return &Error{Kind: ErrNotFound, Message: message}
}

// Unauthenticated creates an unauthenticated error.
func Unauthenticated(message string) *Error {
	return &Error{Kind: ErrUnauthenticated, Message: message}
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *Error {
	return &Error{Kind: ErrForbidden, Message: message}
}

// Internal wraps an unexpected failure. The cause's text becomes the message.
func Internal(err error) *Error {
	msg := "internal server error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: ErrInternal, Message: msg, Err: err}
}

// IsNotFound checks if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsForbidden checks if err is a forbidden error.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// StatusCode maps err to an HTTP status. Unclassified errors are 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
