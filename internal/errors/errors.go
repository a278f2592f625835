package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Kind groups error codes by how a caller is expected to react.
type Kind string

const (
	KindInvalid            Kind = "invalid"
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "not-found"
	KindForbiddenTerminal  Kind = "forbidden-terminal"
	KindForbiddenTransient Kind = "forbidden-transient"
	KindRequestIntegrity   Kind = "request-integrity"
	KindRateLimited        Kind = "rate-limited"
	KindServerFault        Kind = "server-fault"
)

// APIError represents a structured API error. It carries the wire code,
// the HTTP status it maps to and an optional cause.
type APIError struct {
	StatusCode int
	Code       string
	Kind       Kind
	Message    string
	Details    interface{}
	cause      error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause
func (e *APIError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an APIError with the same code, so the
// predefined values below work as sentinels.
func (e *APIError) Is(target error) bool {
	var t *APIError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// WithMessage returns a copy of e carrying a more specific message
func (e *APIError) WithMessage(format string, args ...interface{}) *APIError {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// WithDetails returns a copy of e carrying details
func (e *APIError) WithDetails(details interface{}) *APIError {
	c := *e
	c.Details = details
	return &c
}

// Wrap returns a copy of e with cause attached
func (e *APIError) Wrap(cause error) *APIError {
	c := *e
	c.cause = cause
	return &c
}

// New creates a new APIError with the given parameters
func New(statusCode int, code string, kind Kind, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Code:       code,
		Kind:       kind,
		Message:    message,
	}
}

// As extracts the first APIError in err's chain
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// FromError maps any error to an APIError. Unknown errors become
// SERVER_ERROR with the original error kept as the cause.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := As(err); ok {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.Wrap(err)
	}
	return ErrServer.Wrap(err)
}

// CodeOf returns the wire code of err or SERVER_ERROR
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Code
}

// ValidationError describes one invalid request field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationErrors creates an INVALID_REQUEST error listing field failures
func NewValidationErrors(errs []ValidationError) *APIError {
	msg := "Request validation failed"
	if len(errs) > 0 {
		msg = fmt.Sprintf("%s: %s", errs[0].Field, errs[0].Message)
	}
	return ErrInvalidRequest.WithMessage("%s", msg).WithDetails(errs)
}
