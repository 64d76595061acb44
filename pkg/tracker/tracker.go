// Package tracker implements the run tracker: the relational-store
// lifecycle writes for a Run, plus an in-process fan-out stream so the admin
// surface can render in-flight progress without polling the database more
// than once per tick.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nthiel/jobwatch/pkg/store"
)

// Event is one progress update broadcast to every live-stream subscriber.
type Event struct {
	RunID           string
	SubscriptionID  string
	Stage           string
	ProgressPercent int
	Detail          string
	Counters        map[string]int
	Warning         string
	Status          string
	At              time.Time
}

// subscriberBuffer bounds how many events a slow consumer can fall behind
// by before updates are dropped for it; the live stream is advisory, not a
// durable log, so a full channel drops the event rather than blocking the
// pipeline driver.
const subscriberBuffer = 64

// Tracker wraps store.RunRepo with run lifecycle operations and a
// mutex-guarded fan-out hub for the live stream.
type Tracker struct {
	runs *store.RunRepo

	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
}

// New builds a Tracker over the given run repository.
func New(runs *store.RunRepo) *Tracker {
	return &Tracker{
		runs:        runs,
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a new live-stream listener. The returned func
// unregisters it; callers must call it when done (e.g. on SSE disconnect).
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	t.subscribers[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if ch, ok := t.subscribers[id]; ok {
			delete(t.subscribers, id)
			close(ch)
		}
	}
}

func (t *Tracker) publish(ev Event) {
	ev.At = time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop rather than block the pipeline driver.
		}
	}
}

// StartRun inserts a new Run row and returns it. If runID is empty, the
// store assigns one; callers that locked the subscription under a
// specific run id (see kvstore.Client.TryAcquire) pass it here so the Run
// row and the lock agree.
func (t *Tracker) StartRun(ctx context.Context, runID, subscriptionID, triggerType, podID string) (*store.Run, error) {
	run, err := t.runs.Start(ctx, runID, subscriptionID, triggerType, podID)
	if err != nil {
		return nil, err
	}
	t.publish(Event{RunID: run.ID, SubscriptionID: subscriptionID, Status: store.RunStatusRunning})
	return run, nil
}

// SetStage updates the run's stage and progress, publishing a live update.
// progressPercent is clamped to be non-decreasing by RunRepo.SetStage
// itself (GREATEST at the SQL layer), matching the monotone-progress
// invariant.
func (t *Tracker) SetStage(ctx context.Context, runID, subscriptionID, stage string, progressPercent int, detail string) error {
	if err := t.runs.SetStage(ctx, runID, stage, progressPercent, detail); err != nil {
		return err
	}
	t.publish(Event{RunID: runID, SubscriptionID: subscriptionID, Stage: stage, ProgressPercent: progressPercent, Detail: detail, Status: store.RunStatusRunning})
	return nil
}

// SaveCheckpoint persists an advisory recovery blob; checkpoints are a
// liveness signal for the stuck-run sweep, not a resumption mechanism.
func (t *Tracker) SaveCheckpoint(ctx context.Context, runID string, checkpoint map[string]any) error {
	return t.runs.SaveCheckpoint(ctx, runID, checkpoint)
}

// AddCounter atomically increments one of the run's monotone counters.
func (t *Tracker) AddCounter(ctx context.Context, runID, field string, delta int) error {
	return t.runs.AddCounter(ctx, runID, field, delta)
}

// AddWarning appends a warning, e.g. "collection failed for title X",
// without failing the run.
func (t *Tracker) AddWarning(ctx context.Context, runID, subscriptionID, text string) error {
	if err := t.runs.AddWarning(ctx, runID, text); err != nil {
		return err
	}
	t.publish(Event{RunID: runID, SubscriptionID: subscriptionID, Warning: text, Status: store.RunStatusRunning})
	return nil
}

// Complete finalizes a run as completed.
func (t *Tracker) Complete(ctx context.Context, runID, subscriptionID string) error {
	if err := t.runs.Complete(ctx, runID); err != nil {
		return err
	}
	t.publish(Event{RunID: runID, SubscriptionID: subscriptionID, ProgressPercent: 100, Status: store.RunStatusCompleted})
	return nil
}

// Fail finalizes a run as failed, recording the failing stage and error
// context.
func (t *Tracker) Fail(ctx context.Context, runID, subscriptionID, stage, errMessage string, errContext map[string]any) error {
	if err := t.runs.Fail(ctx, runID, stage, errMessage, errContext); err != nil {
		return fmt.Errorf("tracker fail: %w", err)
	}
	t.publish(Event{RunID: runID, SubscriptionID: subscriptionID, Stage: stage, Detail: errMessage, Status: store.RunStatusFailed})
	return nil
}

// Cancel finalizes a run as cancelled. Idempotent at the RunRepo layer: a
// second call on an already-terminal run is a harmless no-op status write.
func (t *Tracker) Cancel(ctx context.Context, runID, subscriptionID string) error {
	if err := t.runs.Cancel(ctx, runID); err != nil {
		return err
	}
	t.publish(Event{RunID: runID, SubscriptionID: subscriptionID, Status: store.RunStatusCancelled})
	return nil
}
