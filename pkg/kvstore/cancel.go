package kvstore

import (
	"context"
	"fmt"
	"time"
)

// cancelFlagTTL bounds how long a cancel flag survives, well past any
// run's maximum plausible lifetime, so a crash never leaves a dangling flag.
const cancelFlagTTL = 2 * time.Hour

// SetCancelled marks a run for cooperative cancellation. Workers poll
// IsCancelled before every outbound request.
func (c *Client) SetCancelled(ctx context.Context, runID string) error {
	if err := c.rdb.Set(ctx, cancelKey(runID), "1", cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("set run cancelled: %w", err)
	}
	return nil
}

// IsCancelled reports whether a run's cancel flag is set.
func (c *Client) IsCancelled(ctx context.Context, runID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, cancelKey(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("check run cancelled: %w", err)
	}
	return n == 1, nil
}

// ClearCancelled removes a run's cancel flag once the run has finished,
// keeping the keyspace from accumulating stale flags before TTL expiry.
func (c *Client) ClearCancelled(ctx context.Context, runID string) error {
	if err := c.rdb.Del(ctx, cancelKey(runID)).Err(); err != nil {
		return fmt.Errorf("clear run cancelled: %w", err)
	}
	return nil
}
