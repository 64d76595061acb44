package config

import "time"

// SchedulerConfig controls the fixed-tick scheduler loop.
type SchedulerConfig struct {
	// TickInterval is how often the scheduler scans for due subscriptions.
	TickInterval time.Duration `yaml:"tick_interval"`

	// TickBatchSize caps how many due subscriptions are considered per tick.
	TickBatchSize int `yaml:"tick_batch_size"`

	// MaxParallelRuns bounds how many runs this process drives concurrently.
	MaxParallelRuns int `yaml:"max_parallel_runs"`

	// StuckRunThreshold is how long a run may remain in "running" before the
	// stuck-run sweep recovers it.
	StuckRunThreshold time.Duration `yaml:"stuck_run_threshold"`

	// SweepInterval is how often the stuck-run sweep executes.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// GracefulShutdownTimeout bounds how long the scheduler waits for
	// in-flight runs to reach a checkpoint before forcing shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		TickInterval:            30 * time.Second,
		TickBatchSize:           50,
		MaxParallelRuns:         10,
		StuckRunThreshold:       30 * time.Minute,
		SweepInterval:           5 * time.Minute,
		GracefulShutdownTimeout: 45 * time.Second,
	}
}
