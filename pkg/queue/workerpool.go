package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nthiel/jobwatch/pkg/config"
	"github.com/nthiel/jobwatch/pkg/kvstore"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth reports a single worker's health, as part of
// WorkerPool.Health; the admin diagnostics endpoint does not include it.
type WorkerHealth struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	CurrentJobID string    `json:"current_job_id,omitempty"`
	JobsHandled  int       `json:"jobs_handled"`
	LastActivity time.Time `json:"last_activity"`
}

// PoolHealth reports a worker pool's aggregate health.
type PoolHealth struct {
	Queue            string         `json:"queue"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastSweep        time.Time      `json:"last_sweep"`
	JobsPromoted     int            `json:"jobs_promoted"`
}

// completionNotifier is the subset of Manager a WorkerPool needs to deliver
// a job's terminal result back to its awaiting caller.
type completionNotifier interface {
	notify(queueName, jobID string, result Result)
}

// WorkerPool manages the worker goroutines and the delayed-set sweep for
// one named queue
// (pool owns workers + a background recovery loop; workers claim, execute,
// and report health).
type WorkerPool struct {
	podID string
	name  string

	queue    *RedisQueue
	cfg      config.QueueConfig
	kv       *kvstore.Client
	handler  Handler
	notifier completionNotifier

	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.Mutex
	lastSweep    time.Time
	jobsPromoted int

	lastJobAt time.Time
	lastJobMu sync.Mutex
}

// NewWorkerPool constructs a pool. handler is invoked for every claimed job.
func NewWorkerPool(podID, name string, q *RedisQueue, cfg config.QueueConfig, kv *kvstore.Client, handler Handler, notifier completionNotifier) *WorkerPool {
	return &WorkerPool{
		podID:    podID,
		name:     name,
		queue:    q,
		cfg:      cfg,
		kv:       kv,
		handler:  handler,
		notifier: notifier,
		stopCh:   make(chan struct{}),
	}
}

// Start spawns the configured number of worker goroutines plus the delayed
// sweep loop.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := &worker{
			id:     fmt.Sprintf("%s-%s-%d", p.podID, p.name, i),
			status: WorkerStatusIdle,
		}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go p.run(ctx, w)
	}

	p.wg.Add(1)
	go p.sweepLoop(ctx)
}

// Stop signals every worker and the sweep loop to exit and waits for them.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Health reports the pool's current state.
func (p *WorkerPool) Health() PoolHealth {
	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		stats[i] = w.health()
		if stats[i].Status == string(WorkerStatusWorking) {
			active++
		}
	}

	p.mu.Lock()
	lastSweep, promoted := p.lastSweep, p.jobsPromoted
	p.mu.Unlock()

	return PoolHealth{
		Queue:         p.name,
		PodID:         p.podID,
		ActiveWorkers: active,
		TotalWorkers:  len(p.workers),
		WorkerStats:   stats,
		LastSweep:     lastSweep,
		JobsPromoted:  promoted,
	}
}

func (p *WorkerPool) run(ctx context.Context, w *worker) {
	defer p.wg.Done()

	log := slog.With("worker_id", w.id, "queue", p.name)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := p.pollAndProcess(ctx, w); err != nil {
			if errors.Is(err, ErrNoJobAvailable) {
				p.sleep(p.pollInterval())
				continue
			}
			log.Error("queue worker error", "error", err)
			p.sleep(time.Second)
		}
	}
}

func (p *WorkerPool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

func (p *WorkerPool) pollInterval() time.Duration {
	base := p.cfg.PollInterval
	jitter := p.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// pollAndProcess claims one job (if any), waits out the configured minimum
// inter-job delay, runs the handler with panic recovery, and resolves the
// job via ack/requeue/fail depending on the outcome.
func (p *WorkerPool) pollAndProcess(ctx context.Context, w *worker) error {
	job, err := p.queue.Claim(ctx)
	if err != nil {
		return err
	}

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	if p.cfg.MinInterJobDelay > 0 {
		p.waitMinInterJobDelay()
	}

	if p.kv != nil {
		cancelled, err := p.kv.IsCancelled(ctx, job.RunID)
		if err == nil && cancelled {
			// Run was cancelled; return an empty result without charging an
			// attempt.
			_ = p.queue.Ack(ctx, job, p.cfg.RemoveOnComplete <= 0)
			p.notifier.notify(p.name, job.ID, Result{Output: nil, Err: context.Canceled})
			return nil
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	output, hErr := p.invoke(attemptCtx, job)

	if hErr == nil {
		if err := p.queue.Ack(ctx, job, p.cfg.RemoveOnComplete <= 0); err != nil {
			return fmt.Errorf("ack job %s: %w", job.ID, err)
		}
		p.notifier.notify(p.name, job.ID, Result{Output: output})
		w.recordProcessed()
		return nil
	}

	if job.Attempts+1 >= job.MaxAttempts {
		if err := p.queue.Fail(ctx, job, p.cfg.RemoveOnFail <= 0); err != nil {
			return fmt.Errorf("fail job %s: %w", job.ID, err)
		}
		p.notifier.notify(p.name, job.ID, Result{Err: hErr})
		w.recordProcessed()
		return nil
	}

	if err := p.queue.Requeue(ctx, job); err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	return nil
}

// invoke calls the handler with panic recovery: a worker panic is treated
// as its last job failing, never as a process crash.
func (p *WorkerPool) invoke(ctx context.Context, job *Job) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}

func (p *WorkerPool) waitMinInterJobDelay() {
	p.lastJobMu.Lock()
	defer p.lastJobMu.Unlock()

	if !p.lastJobAt.IsZero() {
		if wait := p.cfg.MinInterJobDelay - time.Since(p.lastJobAt); wait > 0 {
			time.Sleep(wait)
		}
	}
	p.lastJobAt = time.Now()
}

// sweepLoop periodically promotes ready delayed jobs back onto the waiting
// set on a ticker.
func (p *WorkerPool) sweepLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := p.cfg.PollInterval * 4
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.PromoteReady(ctx)
			if err != nil {
				slog.Error("queue sweep failed", "queue", p.name, "error", err)
				continue
			}
			p.mu.Lock()
			p.lastSweep = time.Now()
			p.jobsPromoted += n
			p.mu.Unlock()
		}
	}
}

// worker tracks one goroutine's health state.
type worker struct {
	id string

	mu           sync.RWMutex
	status       WorkerStatus
	currentJobID string
	jobsHandled  int
	lastActivity time.Time
}

func (w *worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}

func (w *worker) recordProcessed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobsHandled++
}

func (w *worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:           w.id,
		Status:       string(w.status),
		CurrentJobID: w.currentJobID,
		JobsHandled:  w.jobsHandled,
		LastActivity: w.lastActivity,
	}
}
