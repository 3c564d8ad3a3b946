package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork covers transport, DNS and timeout failures.
	ErrNetwork = errors.New("network error")
	// ErrCircuitOpen is returned while a provider's circuit breaker rejects requests.
	// Retrying the same provider cannot help, so the chain advances at once.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrRateLimited is returned on HTTP 429 or a provider-specific throttling signal.
	ErrRateLimited = errors.New("rate limited")
	// ErrMalformedResponse is returned when a payload lacks a required identifying field.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrProviderUnavailable is returned when every provider of a need is exhausted.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrCanceled is returned when the caller cancels an operation.
	ErrCanceled = errors.New("operation canceled")
	// ErrInvalidQuery is returned for queries that cannot be sent upstream.
	ErrInvalidQuery = errors.New("invalid query")
)

// ProviderError attaches the provider identity to a failure.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// MalformedResponseError lists the payload fields a provider response was missing.
type MalformedResponseError struct {
	Provider string
	Missing  []string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("provider %s: malformed response: missing %s", e.Provider, strings.Join(e.Missing, ", "))
}

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

// ProviderUnavailableError reports an exhausted need together with the last failure of each provider.
type ProviderUnavailableError struct {
	Need     string
	Failures []error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("%s: all providers exhausted: %v", e.Need, errors.Join(e.Failures...))
}

func (e *ProviderUnavailableError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

func (e *ProviderUnavailableError) Unwrap() []error { return e.Failures }

// canceled wraps a context error so callers can match both ErrCanceled and the context cause.
func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
}

// IsRetryable reports whether the same provider may be attempted again after err.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited)
}
