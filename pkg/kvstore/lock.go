package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned by Refresh/Release when the caller's run_id no
// longer matches (or never held) the stored lock value.
var ErrLockNotHeld = errors.New("kvstore: lock not held by this run")

// refreshScript extends the lock's TTL only if the stored value still
// matches run_id, preventing a stale holder from stealing back a lock
// another run has since acquired.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// releaseScript deletes the lock only if the stored value still matches run_id.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// TryAcquire attempts the cross-process single-run mutex for a subscription
// It is an atomic "set if absent" with a TTL; returns true iff this
// call acquired the lock.
func (c *Client) TryAcquire(ctx context.Context, subscriptionID, runID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(subscriptionID), runID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("try acquire lock: %w", err)
	}
	return ok, nil
}

// Refresh extends the lock's TTL iff the stored run_id still matches. The
// pipeline driver calls it at each stage transition; there is no heartbeat
// goroutine refreshing it between transitions.
func (c *Client) Refresh(ctx context.Context, subscriptionID, runID string, ttl time.Duration) error {
	res, err := refreshScript.Run(ctx, c.rdb, []string{lockKey(subscriptionID)}, runID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Release deletes the lock iff the stored run_id still matches.
func (c *Client) Release(ctx context.Context, subscriptionID, runID string) error {
	res, err := releaseScript.Run(ctx, c.rdb, []string{lockKey(subscriptionID)}, runID).Int64()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if res == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// IsHeld reports whether a subscription's lock is currently held by any run.
func (c *Client) IsHeld(ctx context.Context, subscriptionID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, lockKey(subscriptionID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock held: %w", err)
	}
	return n == 1, nil
}

// HeldBy returns the run_id currently holding a subscription's lock, if any.
func (c *Client) HeldBy(ctx context.Context, subscriptionID string) (string, bool, error) {
	runID, err := c.rdb.Get(ctx, lockKey(subscriptionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get lock holder: %w", err)
	}
	return runID, true, nil
}
