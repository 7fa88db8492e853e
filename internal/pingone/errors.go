package pingone

import (
	"fmt"
	"net/http"
)

// AuthError is returned when a worker token cannot be obtained. A zero
// StatusCode means the token endpoint was unreachable (network failure);
// a 4xx means bad credentials or environment and must not be retried.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("token request failed: %s", e.Message)
	}
	return fmt.Sprintf("token request failed (status %d): %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure may succeed on retry
func (e *AuthError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// APIError is a failed user-API call. A zero StatusCode means the request
// never completed (network failure or timeout).
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("pingone request failed: %s", e.Message)
	}
	return fmt.Sprintf("pingone request failed (status %d): %s", e.StatusCode, e.Message)
}

// NotFound reports whether the target resource does not exist
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Conflict reports whether the resource already exists
func (e *APIError) Conflict() bool {
	return e.StatusCode == http.StatusConflict
}

// RateLimited reports whether the provider is throttling us
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Transient reports whether the call may succeed on retry
func (e *APIError) Transient() bool {
	return e.StatusCode == 0 || e.RateLimited() || e.StatusCode >= 500
}
