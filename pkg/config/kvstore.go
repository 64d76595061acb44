package config

import "time"

// KVConfig holds the Redis connection settings for the KV store (locks,
// cancel flags, queues), matching the go-redis Options fields
// exercised by the pack's Redis integration tests.
type KVConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// LockTTL / LockRefreshEvery are not read by the scheduler or the
	// pipeline driver, which use a fixed five-minute lock TTL refreshed at
	// each stage transition; no heartbeat refreshes the lock in between.
	LockTTL          time.Duration `yaml:"lock_ttl"`
	LockRefreshEvery time.Duration `yaml:"lock_refresh_every"`
}

// DefaultKVConfig returns connection defaults suitable for local development.
func DefaultKVConfig() *KVConfig {
	return &KVConfig{
		Addr:             "localhost:6379",
		DB:               0,
		PoolSize:         10,
		MinIdleConns:     2,
		MaxRetries:       3,
		DialTimeout:      5 * time.Second,
		ReadTimeout:      3 * time.Second,
		WriteTimeout:     3 * time.Second,
		LockTTL:          45 * time.Second,
		LockRefreshEvery: 15 * time.Second,
	}
}
