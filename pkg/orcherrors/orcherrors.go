// Package orcherrors defines the closed error taxonomy shared by every
// outbound call the orchestrator makes (scraper, LLM, queue, chat): each
// error is tagged with a Kind so the queue layer, the adaptive batch
// processor, and the pipeline driver can decide whether to retry, absorb,
// or abort without string-matching error messages.
package orcherrors

import (
	"errors"
	"fmt"
)

// Kind is one of the six closed categories from the propagation policy.
type Kind string

const (
	// Transient covers retryable failures: 5xx, gateway errors, timeouts.
	Transient Kind = "transient"
	// RateLimited covers 429 responses; the queue layer retries with
	// back-off and the rate limiter records the event.
	RateLimited Kind = "rate_limited"
	// InvalidInput covers a non-429 4xx from the scraper or LLM; fatal for
	// the single job, not for the run.
	InvalidInput Kind = "invalid_input"
	// Cancelled covers the run-cancel flag being observed mid-flight.
	Cancelled Kind = "cancelled"
	// QueueUnavailable covers the KV store being down with fallback disabled.
	QueueUnavailable Kind = "queue_unavailable"
	// Fatal covers programmer errors and database contract violations;
	// bubbles all the way to the scheduler.
	Fatal Kind = "fatal"
)

// Error is the taxonomy's concrete type. Op names the failing operation
// (e.g. "scraper.scrape", "llm.expand") for log correlation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, orcherrors.IsRateLimited) via the sentinels below
// instead of unwrapping manually.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == Kind(k)
}

type kindSentinel Kind

// Sentinels usable with errors.Is(err, orcherrors.IsRateLimited) etc.
var (
	IsTransient        error = kindSentinel(Transient)
	IsRateLimited      error = kindSentinel(RateLimited)
	IsInvalidInput     error = kindSentinel(InvalidInput)
	IsCancelled        error = kindSentinel(Cancelled)
	IsQueueUnavailable error = kindSentinel(QueueUnavailable)
	IsFatal            error = kindSentinel(Fatal)
)

func (k kindSentinel) Error() string { return string(k) }

// New wraps err under op with the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Fatal for anything not
// produced by this package (an unclassified error is the worst case: treat
// it as non-retryable rather than silently swallowing it).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}

// Retryable reports whether err's kind is worth another try (Transient or
// RateLimited). The scraper and LLM clients use it in their retry loops; the
// queue layer does not consult it.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, RateLimited:
		return true
	default:
		return false
	}
}
