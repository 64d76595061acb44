// Package queue implements the two-queue work dispatch layer and its
// worker pools: collection jobs against external scrapers and matching
// jobs against the LLM-backed matcher, each Redis-backed for priority
// ordering, attempt budgets, and exponential back-off, falling back to an
// in-process bounded semaphore when the KV store is unreachable.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Priority values — lower wins.
const (
	PriorityScheduled  = 10
	PriorityAPIRequest = 5
)

// Queue names.
const (
	Collection = "collection"
	Matching   = "matching"
)

// ErrQueueUnavailable is returned when the KV store backing a queue is
// unreachable and the in-process fallback is disabled.
var ErrQueueUnavailable = errors.New("queue: unavailable")

// ErrJobTimeout is returned by Manager.Enqueue when the caller's ctx is done
// before the job's result arrives. The wait has no deadline of its own
// beyond ctx.
var ErrJobTimeout = errors.New("queue: job await timed out")

// ErrNoJobAvailable is returned by Claim when the waiting set is empty.
var ErrNoJobAvailable = errors.New("queue: no job available")

// Job is one unit of work on a queue. Payload is opaque to the queue layer;
// handlers decode it according to the queue they were registered against.
type Job struct {
	ID             string          `json:"id"`
	Queue          string          `json:"queue"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	AttemptTimeout time.Duration   `json:"attempt_timeout"`
	BackoffBase    time.Duration   `json:"backoff_base"`
	RunID          string          `json:"run_id"`
	SubscriptionID string          `json:"subscription_id"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
}

// Result is what a Handler returns for one attempt at a job.
type Result struct {
	Output json.RawMessage
	Err    error
}

// Handler executes a single attempt at a job. Any non-nil error is retried
// with back-off until the job's attempt budget is spent, then the job fails
// permanently; the queue layer does not classify the error.
type Handler func(ctx context.Context, job *Job) (json.RawMessage, error)
