package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nthiel/jobwatch/pkg/config"
	"github.com/nthiel/jobwatch/pkg/kvstore"
)

// awaitProgressInterval is how often await logs the queue's depths while a
// caller is blocked on a result.
const awaitProgressInterval = 10 * time.Second

// unresponsiveThreshold is how long a caller may wait on one job before the
// progress log marks it possibly unresponsive. Only the elapsed wait is
// checked; the job's own state is not inspected.
const unresponsiveThreshold = 2 * time.Minute

// waiter is an in-process completion channel for one enqueued job.
// Per-run/per-job coordination that does not need to survive a process
// restart stays in-process rather than going through the KV store.
type waiter struct {
	ch chan Result
}

// Manager coordinates the collection and matching queues: pushing jobs,
// awaiting their results, cancelling a run's in-flight work, and falling
// back to an in-process semaphore when Redis is unreachable.
type Manager struct {
	rdb *redis.Client
	kv  *kvstore.Client

	queues map[string]*RedisQueue
	confs  map[string]config.QueueConfig
	pools  map[string]*WorkerPool

	fallback    config.FallbackConfig
	fallbackSem map[string]chan struct{}

	mu      sync.Mutex
	waiters map[string]*waiter // "<queue>:<jobID>" -> waiter
}

// NewManager builds a Manager over the two named queues.
func NewManager(rdb *redis.Client, kv *kvstore.Client, collectionCfg, matchingCfg config.QueueConfig, fallback config.FallbackConfig) *Manager {
	m := &Manager{
		rdb: rdb,
		kv:  kv,
		queues: map[string]*RedisQueue{
			Collection: NewRedisQueue(rdb, Collection),
			Matching:   NewRedisQueue(rdb, Matching),
		},
		confs: map[string]config.QueueConfig{
			Collection: collectionCfg,
			Matching:   matchingCfg,
		},
		pools: make(map[string]*WorkerPool),
		fallback: fallback,
		fallbackSem: map[string]chan struct{}{
			Collection: make(chan struct{}, maxInt(1, fallback.CollectionConcurrency)),
			Matching:   make(chan struct{}, maxInt(1, fallback.MatchingConcurrency)),
		},
		waiters: make(map[string]*waiter),
	}
	return m
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// StartWorkers launches the worker pool for the named queue against handler.
func (m *Manager) StartWorkers(ctx context.Context, podID, name string, handler Handler) *WorkerPool {
	pool := NewWorkerPool(podID, name, m.queues[name], m.confs[name], m.kv, handler, m)
	m.pools[name] = pool
	pool.Start(ctx)
	return pool
}

// StopWorkers stops every started worker pool, waiting for in-flight jobs.
func (m *Manager) StopWorkers() {
	for _, pool := range m.pools {
		pool.Stop()
	}
}

// Depths reports the waiting/active/delayed depth of every named queue,
// used by the admin diagnostics endpoint.
func (m *Manager) Depths(ctx context.Context) (map[string]Depth, error) {
	depths := make(map[string]Depth, len(m.queues))
	for name, q := range m.queues {
		d, err := q.Depth(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue depths: %s: %w", name, err)
		}
		depths[name] = d
	}
	return depths, nil
}

func (m *Manager) redisHealthy(ctx context.Context) bool {
	if m.kv == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return m.kv.Ping(pingCtx) == nil
}

// Enqueue pushes a job onto the named queue and awaits its result, falling
// back to running fn in-process (bounded by the configured semaphore) when
// Redis is unreachable and fallback is enabled.
func (m *Manager) Enqueue(ctx context.Context, queueName string, payload json.RawMessage, priority int, runID, subscriptionID string, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if !m.redisHealthy(ctx) {
		if !m.fallback.Enabled {
			return nil, ErrQueueUnavailable
		}
		return m.runFallback(ctx, queueName, fn)
	}

	cfg := m.confs[queueName]
	job := &Job{
		ID:             uuid.NewString(),
		Queue:          queueName,
		Payload:        payload,
		Priority:       priority,
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout,
		BackoffBase:    cfg.RetryBackoffBase,
		RunID:          runID,
		SubscriptionID: subscriptionID,
		EnqueuedAt:     time.Now(),
	}

	w := &waiter{ch: make(chan Result, 1)}
	m.registerWaiter(queueName, job.ID, w)
	defer m.unregisterWaiter(queueName, job.ID)

	if err := m.queues[queueName].Push(ctx, job); err != nil {
		return nil, fmt.Errorf("manager enqueue: %w", err)
	}

	return m.await(ctx, queueName, job.ID, w)
}

func (m *Manager) runFallback(ctx context.Context, queueName string, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	sem := m.fallbackSem[queueName]
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-sem }()

	slog.Warn("queue: running job in-process fallback", "queue", queueName)
	return fn(ctx)
}

func (m *Manager) registerWaiter(queueName, jobID string, w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiters[waiterKey(queueName, jobID)] = w
}

func (m *Manager) unregisterWaiter(queueName, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waiters, waiterKey(queueName, jobID))
}

// notify delivers a job's terminal result to its waiter, if one is still
// registered (it may have already timed out and left).
func (m *Manager) notify(queueName, jobID string, result Result) {
	m.mu.Lock()
	w, ok := m.waiters[waiterKey(queueName, jobID)]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.ch <- result:
	default:
	}
}

func waiterKey(queueName, jobID string) string {
	return queueName + ":" + jobID
}

// await races the job's completion channel against ctx and logs progress
// every 10s while waiting.
func (m *Manager) await(ctx context.Context, queueName, jobID string, w *waiter) (json.RawMessage, error) {
	ticker := time.NewTicker(awaitProgressInterval)
	defer ticker.Stop()

	waitStart := time.Now()
	for {
		select {
		case res := <-w.ch:
			return res.Output, res.Err
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrJobTimeout, ctx.Err())
		case <-ticker.C:
			depth, err := m.queues[queueName].Depth(ctx)
			elapsed := time.Since(waitStart)
			unresponsive := ""
			if elapsed > unresponsiveThreshold {
				unresponsive = " (possibly unresponsive)"
			}
			if err == nil {
				slog.Info("queue: awaiting job",
					"queue", queueName, "job_id", jobID,
					"waiting", depth.Waiting, "active", depth.Active, "delayed", depth.Delayed,
					"elapsed", elapsed.Round(time.Second).String()+unresponsive)
			}
		}
	}
}

// CancelRun sets the run-cancel flag in the KV store and removes every
// queued job carrying run_id from both queues, returning per-queue counts
//.
func (m *Manager) CancelRun(ctx context.Context, runID string) (map[string]int, error) {
	if m.kv != nil {
		if err := m.kv.SetCancelled(ctx, runID); err != nil {
			return nil, fmt.Errorf("cancel run: set flag: %w", err)
		}
	}

	counts := make(map[string]int, len(m.queues))
	for name, q := range m.queues {
		n, err := q.RemoveRun(ctx, runID)
		if err != nil {
			return counts, fmt.Errorf("cancel run: %s queue: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}
