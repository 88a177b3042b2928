package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Infrastructure failure classes. Repositories and clients wrap their
// driver errors with these so callers can branch with errors.Is.
var (
	// ErrStoreUnavailable marks a durable store or cache that could not be
	// reached or did not answer before the operation deadline.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUpstream marks a failure reported by an external collaborator
	// (order, driver directory, notification or route service).
	ErrUpstream = errors.New("upstream collaborator error")
)

// Unavailable wraps err as a store outage. Deadline and cancellation errors
// are folded into the same class.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Upstream wraps err as a collaborator failure.
func Upstream(service string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", service, ErrUpstream, err)
}

// IsTimeout reports whether err was caused by an expired or cancelled context.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// Common error constructors

// Validation creates a 400 error for missing or out-of-range input
func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

// NotFound creates a 404 error
func NotFound(message string, err error) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: message,
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

// Conflict creates a 409 error
func Conflict(message string, err error) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     err,
	}
}

// Internal creates a 500 error
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// BadGateway creates a 502 error for collaborator failures
func BadGateway(message string, err error) *AppError {
	return &AppError{
		Code:    "UPSTREAM_ERROR",
		Message: message,
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

// ServiceUnavailable creates a 503 error
func ServiceUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:    "STORE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// GetAppError attempts to convert an error to AppError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, ErrStoreUnavailable) || IsTimeout(err) {
		return ServiceUnavailable("Storage temporarily unavailable, retry the request", err)
	}
	if errors.Is(err, ErrUpstream) {
		return BadGateway("Upstream service failed", err)
	}
	return Internal("An unexpected error occurred", err)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
