package llm

import (
	"errors"
	"fmt"
)

// Gateway error codes. Authentication and malformed requests are never
// retried; everything else from the API surfaces as a generic API error.
const (
	CodeAuthError  = "AUTH_ERROR"
	CodeBadRequest = "BAD_REQUEST"
	CodeAPIError   = "API_ERROR"
)

// APIError is a typed error from the LLM API carrying the taxonomy code.
type APIError struct {
	Code       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// ErrorCode extracts the gateway error code from an error chain. Errors
// that did not originate from the API report CodeAPIError.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeAPIError
}

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
