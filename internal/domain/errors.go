package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuthExpired signals an invalid session or credential. The run must
// not retry; re-authentication happens out of band.
var ErrAuthExpired = errors.New("auth session expired")

// RateLimitedError is returned by providers when the upstream throttles.
// RetryAfter may be zero when the upstream gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// TransientError wraps network-level fetch failures worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient fetch error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Retryable reports whether a fetch error should be retried with backoff.
// AuthExpired is explicitly not retryable.
func Retryable(err error) bool {
	var rl *RateLimitedError
	var tr *TransientError
	return errors.As(err, &rl) || errors.As(err, &tr)
}

// SummaryFailure classifies a single backend failure.
type SummaryFailure int

const (
	// SummaryRecoverable moves the fallback chain to the next backend.
	SummaryRecoverable SummaryFailure = iota
	// SummaryFatal aborts the chain immediately.
	SummaryFatal
)

// BackendError is a classified failure from one summary backend.
type BackendError struct {
	Backend string
	Class   SummaryFailure
	Err     error
}

func (e *BackendError) Error() string {
	class := "recoverable"
	if e.Class == SummaryFatal {
		class = "fatal"
	}
	return fmt.Sprintf("backend %s (%s): %v", e.Backend, class, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// FatalSummary reports whether a backend failure must abort the chain.
// Unclassified errors count as recoverable so the chain can continue.
func FatalSummary(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Class == SummaryFatal
}

// SummaryGenerationError means every configured backend failed; it
// carries the last backend's diagnostic.
type SummaryGenerationError struct {
	LastBackend string
	Err         error
}

func (e *SummaryGenerationError) Error() string {
	return fmt.Sprintf("summary generation failed, last backend %s: %v", e.LastBackend, e.Err)
}

func (e *SummaryGenerationError) Unwrap() error { return e.Err }

// DeliveryChannelError is an isolated channel failure. It is recorded in
// the run, never promoted to a run failure.
type DeliveryChannelError struct {
	Channel string
	Err     error
}

func (e *DeliveryChannelError) Error() string {
	return fmt.Sprintf("delivery via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryChannelError) Unwrap() error { return e.Err }
