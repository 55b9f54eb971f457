// Package domain holds the error taxonomy, endpoint constants, and small value
// types shared by every layer of the client. No dependencies beyond the
// standard library.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for client error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// Transport errors
	ErrTimeout            = errors.New("request timed out")
	ErrNetworkUnreachable = errors.New("network unreachable")

	// Response errors
	ErrMalformedResponse = errors.New("malformed response")
	ErrRequestFailed     = errors.New("request failed")

	// Auth errors. ErrAuthenticationExpired and ErrRefreshFailed both mean the
	// token store has been cleared.
	ErrAuthenticationExpired = errors.New("authentication expired")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrRefreshFailed         = errors.New("token refresh failed")
	ErrInvalidTokenPair      = errors.New("token pair must have both access and refresh tokens")
	ErrMalformedToken        = errors.New("malformed token")

	// Upstream status classes, wrapped around a *RequestError by errmap
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnavailable      = errors.New("service unavailable")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrInvalidConfig  = errors.New("invalid configuration value")
)

// RequestError carries the status and body of a non-2xx response.
// errors.Is(err, ErrRequestFailed) reports true for any *RequestError.
type RequestError struct {
	Op     string
	Status int
	Body   []byte
}

func (e *RequestError) Error() string {
	if e == nil {
		return ErrRequestFailed.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%v: status %d", ErrRequestFailed, e.Status)
	}
	return fmt.Sprintf("%s: %v: status %d", e.Op, ErrRequestFailed, e.Status)
}

// Is reports whether target is ErrRequestFailed.
func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}

// NewRequestError builds a RequestError, copying body so the caller may reuse its buffer.
func NewRequestError(op string, status int, body []byte) *RequestError {
	b := make([]byte, len(body))
	copy(b, body)
	return &RequestError{Op: op, Status: status, Body: b}
}

// StatusCode returns the HTTP status carried by err, or 0 if err has none.
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}
	return 0
}

// IsSessionCleared returns true if the error implies the token store was
// cleared and the caller must treat the session as logged out.
func IsSessionCleared(err error) bool {
	return errors.Is(err, ErrAuthenticationExpired) ||
		errors.Is(err, ErrRefreshFailed)
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed if the caller tries again later.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetworkUnreachable) {
		return true
	}
	status := StatusCode(err)
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// IsTransportError returns true for failures that happened before a response arrived.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetworkUnreachable)
}
