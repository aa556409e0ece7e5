// Package api provides the HTTP client for the membership backend.
//
// This file defines the error taxonomy shared by every endpoint: each
// failure is classified into a stable code that callers branch on, with
// a retryability flag driving the retry loop.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCode classifies an API failure into a stable, caller-facing code.
type ErrorCode string

const (
	ErrCodeConfig        ErrorCode = "CONFIG_ERROR"
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeAuth          ErrorCode = "AUTH_ERROR"
	ErrCodePermission    ErrorCode = "PERMISSION_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeUnprocessable ErrorCode = "UNPROCESSABLE"
	ErrCodeRateLimit     ErrorCode = "RATE_LIMIT"
	ErrCodeServer        ErrorCode = "SERVER_ERROR"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
	ErrCodeNetwork       ErrorCode = "NETWORK_ERROR"
	ErrCodeUnknown       ErrorCode = "UNKNOWN_ERROR"
)

// APIError is the single error type returned by Client methods.
type APIError struct {
	Code      ErrorCode
	Message   string
	Status    int
	Details   string
	Retryable bool
	cause     error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

// newConfigError marks a misconfiguration. It is never retried.
func newConfigError(message string) *APIError {
	return &APIError{Code: ErrCodeConfig, Message: message}
}

// classifyStatus maps an HTTP status to an error code. Rate limiting
// and server-side failures are retryable; client errors are not.
func classifyStatus(status int) (ErrorCode, bool) {
	switch {
	case status == http.StatusBadRequest:
		return ErrCodeValidation, false
	case status == http.StatusUnauthorized:
		return ErrCodeAuth, false
	case status == http.StatusForbidden:
		return ErrCodePermission, false
	case status == http.StatusNotFound:
		return ErrCodeNotFound, false
	case status == http.StatusConflict:
		return ErrCodeConflict, false
	case status == http.StatusUnprocessableEntity:
		return ErrCodeUnprocessable, false
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimit, true
	case status >= 500:
		return ErrCodeServer, true
	default:
		return ErrCodeUnknown, true
	}
}

// statusError builds the APIError for a non-2xx response body.
func statusError(status int, message, details string) *APIError {
	code, retryable := classifyStatus(status)
	if message == "" {
		message = http.StatusText(status)
	}
	return &APIError{Code: code, Message: message, Status: status, Details: details, Retryable: retryable}
}

// transportError classifies a failure that happened before a response
// arrived: timeouts, cancellation and network faults.
func transportError(err error) *APIError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Code: ErrCodeTimeout, Message: "request timed out", Retryable: true, cause: err}
	case errors.Is(err, context.Canceled):
		// Cancellation is deliberate; retrying would defeat it.
		return &APIError{Code: ErrCodeUnknown, Message: "request canceled", Retryable: false, cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &APIError{Code: ErrCodeTimeout, Message: "request timed out", Retryable: true, cause: err}
		}
		return &APIError{Code: ErrCodeNetwork, Message: "network failure", Retryable: true, cause: err}
	}
	return &APIError{Code: ErrCodeUnknown, Message: err.Error(), Retryable: true, cause: err}
}

// IsRetryable reports whether err is an APIError the retry loop may
// attempt again.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}

// CodeOf extracts the error code, defaulting to UNKNOWN_ERROR for
// errors that did not come from this package.
func CodeOf(err error) ErrorCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrCodeUnknown
}
