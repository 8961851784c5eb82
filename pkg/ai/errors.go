package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind is the closed set of provider failure modes the fallback chain
// switches on. Callers never inspect error text or concrete provider error
// types to make routing decisions.
type ErrorKind int

const (
	// ErrUnknown covers failures that could not be classified.
	ErrUnknown ErrorKind = iota
	// ErrTimeout marks a request that exceeded its deadline.
	ErrTimeout
	// ErrRateLimited marks an HTTP 429 from the provider.
	ErrRateLimited
	// ErrProviderUnavailable marks connection failures and provider 5xx responses.
	ErrProviderUnavailable
	// ErrInvalidResponse marks a response that arrived but could not be used
	// (schema mismatch, empty completion, malformed payload).
	ErrInvalidResponse
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTimeout:
		return "timeout"
	case ErrRateLimited:
		return "rate_limited"
	case ErrProviderUnavailable:
		return "provider_unavailable"
	case ErrInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// ProviderError wraps a provider failure with its classified kind. Provider
// identifies which backend failed ("openai", "ollama").
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError classifies err for the given provider. Context deadline
// expiry and net timeouts map to ErrTimeout; statusCode (0 when unknown) maps
// 429 to ErrRateLimited and 5xx to ErrProviderUnavailable.
func NewProviderError(provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{
		Kind:       classifyError(statusCode, err),
		Provider:   provider,
		StatusCode: statusCode,
		Err:        err,
	}
}

func classifyError(statusCode int, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	switch {
	case statusCode == 429:
		return ErrRateLimited
	case statusCode >= 500:
		return ErrProviderUnavailable
	case statusCode > 0:
		return ErrUnknown
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrProviderUnavailable
	}
	return ErrUnknown
}

// KindOf extracts the classified kind from err, or ErrUnknown when err does
// not carry one.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrUnknown
}

var retryableStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
}

// IsRetryable reports whether err is worth retrying against the same
// provider: timeouts, connection-level unavailability, and the retryable
// HTTP statuses (429/500/502/503). Anything else fails the attempt
// immediately so the chain can move on.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode > 0 {
		return retryableStatuses[pe.StatusCode]
	}

	switch KindOf(err) {
	case ErrTimeout, ErrRateLimited, ErrProviderUnavailable:
		return true
	default:
		return false
	}
}
