package config

import "time"

// QueueConfig contains queue and worker pool configuration for a single
// queue (collection or matching). Each queue gets its own pool sized
// independently, since collection workers are rate-limited by external
// scrapers and matching workers are not.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per process for this queue.
	WorkerCount int `yaml:"worker_count"`

	// MaxAttempts is the attempt budget before a job is considered permanently failed.
	MaxAttempts int `yaml:"max_attempts"`

	// AttemptTimeout bounds a single attempt's wall-clock time.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// PollInterval is the base interval for checking for new jobs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// RemoveOnComplete / RemoveOnFail: when zero or negative, a job's body is
	// deleted from the queue's job hash as soon as it completes (or fails);
	// when positive, the body is kept. The value is not a count: nothing trims
	// the retained bodies.
	RemoveOnComplete int `yaml:"remove_on_complete"`
	RemoveOnFail     int `yaml:"remove_on_fail"`

	// MinInterJobDelay enforces a floor on the gap between any two jobs
	// started by this queue's worker pool as a whole, independent of the per-source rate limiter.
	MinInterJobDelay time.Duration `yaml:"min_inter_job_delay"`

	// RetryBackoffBase is the base of the exponential back-off applied on
	// requeue: attempt N waits RetryBackoffBase << (N-1).
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
}

// DefaultCollectionQueueConfig returns the built-in collection-queue defaults
//.
func DefaultCollectionQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:        2,
		MaxAttempts:        2,
		AttemptTimeout:     3 * time.Minute,
		PollInterval:       1 * time.Second,
		PollIntervalJitter: 250 * time.Millisecond,
		RemoveOnComplete:   500,
		RemoveOnFail:       500,
		MinInterJobDelay:   500 * time.Millisecond,
		RetryBackoffBase:   2 * time.Second,
	}
}

// DefaultMatchingQueueConfig returns the built-in matching-queue defaults
//.
func DefaultMatchingQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:        5,
		MaxAttempts:        3,
		AttemptTimeout:     60 * time.Second,
		PollInterval:       250 * time.Millisecond,
		PollIntervalJitter: 100 * time.Millisecond,
		RemoveOnComplete:   1000,
		RemoveOnFail:       1000,
		RetryBackoffBase:   500 * time.Millisecond,
	}
}

// FallbackConfig controls the in-process fallback semaphore used when the
// KV store is unreachable.
type FallbackConfig struct {
	Enabled               bool `yaml:"enabled"`
	CollectionConcurrency int  `yaml:"collection_concurrency"`
	MatchingConcurrency   int  `yaml:"matching_concurrency"`
}

// DefaultFallbackConfig returns the built-in fallback defaults (2 / 5).
func DefaultFallbackConfig() *FallbackConfig {
	return &FallbackConfig{
		Enabled:               true,
		CollectionConcurrency: 2,
		MatchingConcurrency:   5,
	}
}
