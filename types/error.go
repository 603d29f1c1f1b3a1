package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Request error codes
const (
	ErrInvalidQuestion ErrorCode = "INVALID_QUESTION"
	ErrUnknownIntent   ErrorCode = "UNKNOWN_INTENT"
	ErrInvalidFilters  ErrorCode = "INVALID_FILTERS"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
)

// Pipeline error codes
const (
	ErrRetrievalUnavailable ErrorCode = "RETRIEVAL_UNAVAILABLE"
	ErrGenerationExhausted  ErrorCode = "GENERATION_EXHAUSTED"
	ErrDimensionMismatch    ErrorCode = "DIMENSION_MISMATCH"
	ErrUpstreamTimeout      ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError        ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError        ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewValidationError reports a request the caller must fix before retrying.
func NewValidationError(code ErrorCode, message string) *Error {
	return NewError(code, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewRetrievalUnavailableError reports that every retrieval backend failed.
func NewRetrievalUnavailableError(cause error) *Error {
	return NewError(ErrRetrievalUnavailable, "retrieval backends unavailable").
		WithCause(cause).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true)
}

// NewGenerationExhaustedError reports that every model tier failed.
func NewGenerationExhaustedError(cause error) *Error {
	return NewError(ErrGenerationExhausted, "all model tiers exhausted").
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway)
}

// NewDimensionMismatchError reports an embedding of unexpected length.
func NewDimensionMismatchError(want, got int) *Error {
	return NewError(ErrDimensionMismatch, fmt.Sprintf("embedding dimension mismatch: want %d, got %d", want, got)).
		WithHTTPStatus(http.StatusInternalServerError)
}

// NewRateLimitedError reports a request rejected by the admission limiter.
func NewRateLimitedError() *Error {
	return NewError(ErrRateLimited, "rate limit exceeded").
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryable(true)
}

// AsError extracts *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsValidation reports whether err rejects the request itself.
func IsValidation(err error) bool {
	switch GetErrorCode(err) {
	case ErrInvalidQuestion, ErrUnknownIntent, ErrInvalidFilters:
		return true
	}
	return false
}

// HTTPStatusOf maps an error to the HTTP status the server should return.
func HTTPStatusOf(err error) int {
	if e, ok := AsError(err); ok && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
