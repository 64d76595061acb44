package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/config"
	"github.com/nthiel/jobwatch/pkg/kvstore"
	"github.com/nthiel/jobwatch/pkg/pipeline"
	"github.com/nthiel/jobwatch/pkg/store"
)

func newTestKV(t *testing.T) *kvstore.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return kvstore.NewFromRedis(rdb)
}

type fakeSubs struct {
	mu            sync.Mutex
	due           []*store.Subscription
	rescheduled   []string
	rescheduleErr error
}

func (f *fakeSubs) ListDue(ctx context.Context, now time.Time, limit int) ([]*store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, nil
}

func (f *fakeSubs) RescheduleAfterRun(ctx context.Context, id string, cadence time.Duration, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled = append(f.rescheduled, id)
	return f.rescheduleErr
}

type fakeRuns struct {
	mu     sync.Mutex
	stuck  []*store.Run
	failed []string
}

func (f *fakeRuns) ListStuck(ctx context.Context, threshold time.Duration) ([]*store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stuck, nil
}

func (f *fakeRuns) Fail(ctx context.Context, id, failedStage, errMessage string, errContext map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

type fakeDriver struct {
	calls     int32
	concurrent int32
	maxSeen   int32
	block     chan struct{}
}

func (d *fakeDriver) Run(ctx context.Context, runID string, sub *store.Subscription, triggerType string) (*pipeline.Result, error) {
	atomic.AddInt32(&d.calls, 1)
	n := atomic.AddInt32(&d.concurrent, 1)
	for {
		old := atomic.LoadInt32(&d.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&d.maxSeen, old, n) {
			break
		}
	}
	if d.block != nil {
		<-d.block
	}
	atomic.AddInt32(&d.concurrent, -1)
	return &pipeline.Result{Status: store.RunStatusCompleted}, nil
}

func TestDispatchSyncRejectsWhenLockAlreadyHeld(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	driver := &fakeDriver{block: make(chan struct{})}
	s := newScheduler(&fakeSubs{}, &fakeRuns{}, kv, driver, config.SchedulerConfig{MaxParallelRuns: 5})

	sub := &store.Subscription{ID: "sub-1"}
	require.NoError(t, s.TriggerManual(ctx, sub))

	err := s.TriggerManual(ctx, sub)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(driver.block)
	s.wg.Wait()
}

func TestDispatchBoundsConcurrencyByMaxParallelRuns(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	driver := &fakeDriver{block: make(chan struct{})}
	subs := &fakeSubs{}
	s := newScheduler(subs, &fakeRuns{}, kv, driver, config.SchedulerConfig{MaxParallelRuns: 2, TickBatchSize: 10})

	for i := 0; i < 5; i++ {
		subs.due = append(subs.due, &store.Subscription{ID: string(rune('a' + i))})
	}

	s.runTick(ctx)
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&driver.maxSeen), int32(2))

	close(driver.block)
	s.wg.Wait()
	require.Len(t, subs.rescheduled, 2) // only the 2 that acquired the semaphore slot before the rest were skipped this tick
}

type erroringDriver struct{ err error }

func (d *erroringDriver) Run(ctx context.Context, runID string, sub *store.Subscription, triggerType string) (*pipeline.Result, error) {
	return nil, d.err
}

func TestRunOneReschedulesAndReleasesLockRegardlessOfDriverError(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	driver := &erroringDriver{err: context.DeadlineExceeded}
	subs := &fakeSubs{}
	s := newScheduler(subs, &fakeRuns{}, kv, driver, config.SchedulerConfig{MaxParallelRuns: 1})

	sub := &store.Subscription{ID: "sub-1", ScanCadenceMinutes: 30}
	require.NoError(t, s.TriggerManual(ctx, sub))
	s.wg.Wait()

	require.Equal(t, []string{"sub-1"}, subs.rescheduled)
	held, err := kv.IsHeld(ctx, "sub-1")
	require.NoError(t, err)
	require.False(t, held)
}

func TestRunStuckSweepFailsAndReleasesStuckRuns(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)
	_, err := kv.TryAcquire(ctx, "sub-1", "run-1", time.Minute)
	require.NoError(t, err)

	runs := &fakeRuns{stuck: []*store.Run{{ID: "run-1", SubscriptionID: "sub-1", StartedAt: time.Now().Add(-time.Hour)}}}
	subs := &fakeSubs{}
	s := newScheduler(subs, runs, kv, &fakeDriver{}, config.SchedulerConfig{})

	s.runStuckSweep(ctx)

	require.Equal(t, []string{"run-1"}, runs.failed)
	require.Equal(t, []string{"sub-1"}, subs.rescheduled)
	held, err := kv.IsHeld(ctx, "sub-1")
	require.NoError(t, err)
	require.False(t, held)
}
