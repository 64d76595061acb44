// Package scheduler implements the fixed-tick scheduler: selecting due
// subscriptions, acquiring their per-subscription lock, dispatching a
// pipeline driver run bounded by a global concurrency semaphore, and
// sweeping runs that have been stuck in "running" too long.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nthiel/jobwatch/pkg/config"
	"github.com/nthiel/jobwatch/pkg/kvstore"
	"github.com/nthiel/jobwatch/pkg/pipeline"
	"github.com/nthiel/jobwatch/pkg/store"
)

// stuckResweepDelay is the next_run_at offset given to subscriptions whose
// run was recovered by the stuck-run sweep.
const stuckResweepDelay = time.Minute

// errStuckSweep is the error_message recorded against runs recovered by
// the stuck-run sweep.
const errStuckSweep = "stuck-sweep"

// Driver is the subset of pipeline.Driver the scheduler depends on.
type Driver interface {
	Run(ctx context.Context, runID string, sub *store.Subscription, triggerType string) (*pipeline.Result, error)
}

// subscriptionRepo is the subset of store.SubscriptionRepo the scheduler
// depends on.
type subscriptionRepo interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*store.Subscription, error)
	RescheduleAfterRun(ctx context.Context, id string, cadence time.Duration, at time.Time) error
}

// runRepo is the subset of store.RunRepo the stuck-run sweep depends on.
type runRepo interface {
	ListStuck(ctx context.Context, threshold time.Duration) ([]*store.Run, error)
	Fail(ctx context.Context, id, failedStage, errMessage string, errContext map[string]any) error
}

// Scheduler runs the tick loop and stuck-run sweep for one orchestrator
// process.
type Scheduler struct {
	subs   subscriptionRepo
	runs   runRepo
	kv     *kvstore.Client
	driver Driver
	cfg    config.SchedulerConfig

	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Scheduler over a relational store's subscription and run
// repositories.
func New(subs *store.SubscriptionRepo, runs *store.RunRepo, kv *kvstore.Client, driver Driver, cfg config.SchedulerConfig) *Scheduler {
	return newScheduler(subs, runs, kv, driver, cfg)
}

func newScheduler(subs subscriptionRepo, runs runRepo, kv *kvstore.Client, driver Driver, cfg config.SchedulerConfig) *Scheduler {
	maxParallel := cfg.MaxParallelRuns
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Scheduler{
		subs:   subs,
		runs:   runs,
		kv:     kv,
		driver: driver,
		cfg:    cfg,
		sem:    make(chan struct{}, maxParallel),
		logger: slog.Default().With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Run blocks, driving the tick loop and stuck-run sweep until ctx is
// cancelled or Stop is called, then waits up to GracefulShutdownTimeout for
// in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	tickInterval := s.cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	sweepInterval := s.cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	tick := time.NewTicker(tickInterval)
	sweep := time.NewTicker(sweepInterval)
	defer tick.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.stopCh:
			s.shutdown()
			return
		case <-tick.C:
			s.runTick(ctx)
		case <-sweep.C:
			s.runStuckSweep(ctx)
		}
	}
}

// Stop signals the tick loop to exit; Run still drains in-flight work.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) shutdown() {
	timeout := s.cfg.GracefulShutdownTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("scheduler: graceful shutdown timed out with runs still in flight")
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	batchSize := s.cfg.TickBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	due, err := s.subs.ListDue(ctx, time.Now(), batchSize)
	if err != nil {
		s.logger.Error("scheduler: list due subscriptions failed", "error", err)
		return
	}
	for _, sub := range due {
		s.dispatch(ctx, sub, store.TriggerScheduled)
	}
}

// TriggerManual invokes the driver for one subscription outside the tick
// loop, used by the admin API's manual-run endpoint. Returns an error
// immediately if the subscription's lock is already held.
func (s *Scheduler) TriggerManual(ctx context.Context, sub *store.Subscription) error {
	return s.dispatchSync(ctx, sub, store.TriggerManual)
}

// ErrAlreadyRunning is returned when a manual trigger targets a
// subscription whose lock is already held.
var ErrAlreadyRunning = errors.New("scheduler: subscription already has a run in progress")

func (s *Scheduler) dispatch(ctx context.Context, sub *store.Subscription, triggerType string) {
	runID := uuid.NewString()
	acquired, err := s.kv.TryAcquire(ctx, sub.ID, runID, lockTTL)
	if err != nil {
		s.logger.Error("scheduler: try_acquire failed", "subscription_id", sub.ID, "error", err)
		return
	}
	if !acquired {
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		if err := s.kv.Release(ctx, sub.ID, runID); err != nil {
			s.logger.Warn("scheduler: release after semaphore-full failed", "subscription_id", sub.ID, "error", err)
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.runOne(ctx, runID, sub, triggerType)
	}()
}

func (s *Scheduler) dispatchSync(ctx context.Context, sub *store.Subscription, triggerType string) error {
	runID := uuid.NewString()
	acquired, err := s.kv.TryAcquire(ctx, sub.ID, runID, lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrAlreadyRunning
	}

	select {
	case s.sem <- struct{}{}:
	default:
		if err := s.kv.Release(ctx, sub.ID, runID); err != nil {
			s.logger.Warn("scheduler: release after semaphore-full failed", "subscription_id", sub.ID, "error", err)
		}
		return ErrAlreadyRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.runOne(ctx, runID, sub, triggerType)
	}()
	return nil
}

// lockTTL bounds how long a subscription's lock is held before the next
// stage-transition refresh; the pipeline driver refreshes it throughout
// the run.
const lockTTL = 5 * time.Minute

func (s *Scheduler) runOne(ctx context.Context, runID string, sub *store.Subscription, triggerType string) {
	_, err := s.driver.Run(ctx, runID, sub, triggerType)
	if err != nil {
		s.logger.Error("scheduler: run failed", "subscription_id", sub.ID, "run_id", runID, "trigger_type", triggerType, "error", err)
	}

	if err := s.subs.RescheduleAfterRun(ctx, sub.ID, sub.Cadence(), time.Now()); err != nil {
		s.logger.Error("scheduler: reschedule failed", "subscription_id", sub.ID, "error", err)
	}
	if err := s.kv.Release(ctx, sub.ID, runID); err != nil {
		s.logger.Warn("scheduler: lock release failed", "subscription_id", sub.ID, "error", err)
	}
}

// runStuckSweep finds runs stuck in "running" past the configured
// threshold, force-fails them, releases their locks, and reschedules their
// subscription shortly in the future.
func (s *Scheduler) runStuckSweep(ctx context.Context) {
	threshold := s.cfg.StuckRunThreshold
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	if _, err := s.ForceFailStuck(ctx, threshold); err != nil {
		s.logger.Error("scheduler: list stuck runs failed", "error", err)
	}
}

// ForceFailStuck recovers every run that has been "running" longer than
// minAge, returning how many were recovered. Used both by the periodic
// sweep and the admin API's manual diagnostics trigger.
func (s *Scheduler) ForceFailStuck(ctx context.Context, minAge time.Duration) (int, error) {
	stuck, err := s.runs.ListStuck(ctx, minAge)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list stuck runs: %w", err)
	}
	for _, run := range stuck {
		s.recoverStuckRun(ctx, run)
	}
	return len(stuck), nil
}

func (s *Scheduler) recoverStuckRun(ctx context.Context, run *store.Run) {
	stage := ""
	if run.CurrentStage != nil {
		stage = *run.CurrentStage
	}
	if err := s.runs.Fail(ctx, run.ID, stage, errStuckSweep, map[string]any{"started_at": run.StartedAt}); err != nil {
		s.logger.Error("scheduler: stuck-sweep fail failed", "run_id", run.ID, "error", err)
	}
	if err := s.kv.Release(ctx, run.SubscriptionID, run.ID); err != nil {
		s.logger.Warn("scheduler: stuck-sweep release failed", "run_id", run.ID, "error", err)
	}
	if err := s.subs.RescheduleAfterRun(ctx, run.SubscriptionID, stuckResweepDelay, time.Now()); err != nil {
		s.logger.Error("scheduler: stuck-sweep reschedule failed", "subscription_id", run.SubscriptionID, "error", err)
	}
	s.logger.Warn("scheduler: recovered stuck run", "run_id", run.ID, "subscription_id", run.SubscriptionID)
}
