package kvstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/kvstore"
)

func newTestClient(t *testing.T) *kvstore.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return kvstore.NewFromRedis(rdb)
}

func TestLockTryAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	ok, err := c.TryAcquire(ctx, "sub-1", "run-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.TryAcquire(ctx, "sub-1", "run-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "a second run must not acquire a lock already held")
}

func TestLockRefreshRejectsWrongRun(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.TryAcquire(ctx, "sub-1", "run-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.Refresh(ctx, "sub-1", "run-a", time.Minute))
	require.ErrorIs(t, c.Refresh(ctx, "sub-1", "run-b", time.Minute), kvstore.ErrLockNotHeld)
}

func TestLockReleaseRejectsWrongRun(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.TryAcquire(ctx, "sub-1", "run-a", time.Minute)
	require.NoError(t, err)

	require.ErrorIs(t, c.Release(ctx, "sub-1", "run-b"), kvstore.ErrLockNotHeld)

	held, err := c.IsHeld(ctx, "sub-1")
	require.NoError(t, err)
	require.True(t, held, "a rejected release must not remove the lock")

	require.NoError(t, c.Release(ctx, "sub-1", "run-a"))

	held, err = c.IsHeld(ctx, "sub-1")
	require.NoError(t, err)
	require.False(t, held)
}

func TestLockReacquireAfterRelease(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.TryAcquire(ctx, "sub-1", "run-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, "sub-1", "run-a"))

	ok, err := c.TryAcquire(ctx, "sub-1", "run-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
