package wikidot

import (
	"errors"
	"fmt"
	"time"
)

// Wikidot-specific errors.
var (
	// ErrPageNotFound indicates the remote reports no page at the slug.
	ErrPageNotFound = errors.New("wikidot: page not found")

	// ErrMalformedPayload indicates a module response could not be parsed
	// into the expected fields.
	ErrMalformedPayload = errors.New("wikidot: malformed payload")

	// ErrRetriesExhausted indicates a request failed after the maximum
	// number of attempts.
	ErrRetriesExhausted = errors.New("wikidot: retries exhausted")
)

// RateLimitError represents a rate-limited response. It extends the
// backoff window instead of consuming a retry attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("wikidot: rate limited, retry after %s", e.RetryAfter)
}

// HTTPError represents a non-2xx transport response.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("wikidot: HTTP %d (URL: %s)", e.StatusCode, e.URL)
}

// ModuleError represents a module-call envelope whose status is not "ok".
type ModuleError struct {
	Status  string
	Message string
	Module  string
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("wikidot: module %s returned status %q: %s", e.Module, e.Status, e.Message)
}

// IsNotFound checks if the error indicates the resource is definitively
// gone. Not retried; callers record a terminal state.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrPageNotFound) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 404 || httpErr.StatusCode == 410
	}
	var modErr *ModuleError
	if errors.As(err, &modErr) {
		return modErr.Status == "no_page" || modErr.Status == "no_revision"
	}
	return false
}

// IsRateLimited checks if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429
	}
	var modErr *ModuleError
	return errors.As(err, &modErr) && modErr.Status == "try_again"
}

// IsTransient checks if the error is worth retrying: 5xx responses,
// network-level failures, unknown module statuses and malformed
// payloads, which in practice are truncated proxy responses that
// recover on the next attempt. Definitive 4xx responses and not-found
// module statuses are never transient.
func IsTransient(err error) bool {
	if IsNotFound(err) || IsRateLimited(err) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return true
}
