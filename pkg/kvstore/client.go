// Package kvstore wraps the Redis-backed key-value store used for the
// per-subscription lock, the run-cancel flag, and the backing store
// for the queue layer.
package kvstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nthiel/jobwatch/pkg/config"
)

// Client wraps a go-redis client with the key-naming conventions used
// throughout this package: "lock:subscription:<id>", "run:cancelled:<id>",
// "queue:<name>:waiting|active|delayed".
type Client struct {
	rdb *redis.Client
}

// New dials Redis per cfg.
func New(cfg config.KVConfig) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})}
}

// NewFromRedis wraps an already-constructed *redis.Client, used by tests
// that point at a miniredis instance.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping verifies connectivity; the queue manager uses it to choose between
// the Redis queues and the in-process fallback.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kvstore ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func lockKey(subscriptionID string) string {
	return "lock:subscription:" + subscriptionID
}

func cancelKey(runID string) string {
	return "run:cancelled:" + runID
}
