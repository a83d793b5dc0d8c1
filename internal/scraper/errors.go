package scraper

import (
	"errors"
	"fmt"
)

// ErrQuotaUnavailable signals that the structured tier declined to call
// upstream because the monthly budget is spent. Callers fall back; it is
// never reported as a failure.
var ErrQuotaUnavailable = errors.New("structured search quota unavailable")

// ErrStructuredUnconfigured signals that no API key was provided. Like
// ErrQuotaUnavailable it only triggers fallback.
var ErrStructuredUnconfigured = errors.New("structured search API key not configured")

// ErrRequestBudgetExhausted is returned when the run's request ceiling is
// reached before a request could be issued.
var ErrRequestBudgetExhausted = errors.New("per-run request budget exhausted")

// ErrValidationTimeout marks a candidate whose page fetch did not complete
// before its deadline.
var ErrValidationTimeout = errors.New("validation timed out")

// RateLimitedError is returned for HTTP 429, 403 and 999 responses.
type RateLimitedError struct {
	StatusCode int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.StatusCode)
}

// UpstreamError wraps any other non-2xx response or transport failure.
type UpstreamError struct {
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream unreachable: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned %d: %v", e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ParseError reports a response body that could not be decoded.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.What, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// IsFallbackSignal reports whether err only asks the caller to use the
// next tier.
func IsFallbackSignal(err error) bool {
	return errors.Is(err, ErrQuotaUnavailable) || errors.Is(err, ErrStructuredUnconfigured)
}

// isRetryable reports whether another attempt could succeed.
func isRetryable(err error) bool {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode == 0 || ue.StatusCode >= 500
	}
	return false
}
