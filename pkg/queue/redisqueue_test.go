package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestClaimReturnsLowestPriorityFirst(t *testing.T) {
	ctx := context.Background()
	q := NewRedisQueue(newTestRedis(t), Collection)

	low := &Job{ID: "scheduled", Priority: PriorityScheduled, Payload: json.RawMessage(`{}`)}
	high := &Job{ID: "api", Priority: PriorityAPIRequest, Payload: json.RawMessage(`{}`)}

	require.NoError(t, q.Push(ctx, low))
	require.NoError(t, q.Push(ctx, high))

	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "api", claimed.ID, "lower priority number must be claimed first")

	claimed, err = q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "scheduled", claimed.ID)

	_, err = q.Claim(ctx)
	require.ErrorIs(t, err, ErrNoJobAvailable)
}

func TestClaimIsFIFOWithinSamePriority(t *testing.T) {
	ctx := context.Background()
	q := NewRedisQueue(newTestRedis(t), Collection)

	require.NoError(t, q.Push(ctx, &Job{ID: "first", Priority: PriorityScheduled, Payload: json.RawMessage(`{}`)}))
	require.NoError(t, q.Push(ctx, &Job{ID: "second", Priority: PriorityScheduled, Payload: json.RawMessage(`{}`)}))

	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", claimed.ID)
}

func TestAckRemovesFromActive(t *testing.T) {
	ctx := context.Background()
	q := NewRedisQueue(newTestRedis(t), Matching)

	require.NoError(t, q.Push(ctx, &Job{ID: "j1", Priority: PriorityScheduled, Payload: json.RawMessage(`{}`)}))
	job, err := q.Claim(ctx)
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth.Active)

	require.NoError(t, q.Ack(ctx, job, true))

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, depth.Active)
}

func TestRequeueMovesToDelayedAndIncrementsAttempts(t *testing.T) {
	ctx := context.Background()
	q := NewRedisQueue(newTestRedis(t), Matching)

	job := &Job{ID: "j1", Priority: PriorityScheduled, Payload: json.RawMessage(`{}`), BackoffBase: time.Millisecond}
	require.NoError(t, q.Push(ctx, job))

	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, claimed.Attempts)

	require.NoError(t, q.Requeue(ctx, claimed))
	require.Equal(t, 1, claimed.Attempts)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth.Delayed)
	require.EqualValues(t, 0, depth.Active)
}

func TestPromoteReadyMovesElapsedDelayedJobsBackToWaiting(t *testing.T) {
	ctx := context.Background()
	q := NewRedisQueue(newTestRedis(t), Matching)

	job := &Job{ID: "j1", Priority: PriorityScheduled, Payload: json.RawMessage(`{}`), BackoffBase: time.Millisecond}
	require.NoError(t, q.Push(ctx, job))
	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Requeue(ctx, claimed))

	time.Sleep(5 * time.Millisecond)

	n, err := q.PromoteReady(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth.Waiting)
	require.EqualValues(t, 0, depth.Delayed)
}

func TestRemoveRunSweepsWaitingSet(t *testing.T) {
	ctx := context.Background()
	q := NewRedisQueue(newTestRedis(t), Collection)

	require.NoError(t, q.Push(ctx, &Job{ID: "w1", Priority: PriorityScheduled, RunID: "run-a", Payload: json.RawMessage(`{}`)}))
	require.NoError(t, q.Push(ctx, &Job{ID: "w2", Priority: PriorityScheduled, RunID: "run-b", Payload: json.RawMessage(`{}`)}))

	removed, err := q.RemoveRun(ctx, "run-a")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth.Waiting, "run-b's job must survive")
}

func TestRemoveRunSweepsActiveSet(t *testing.T) {
	ctx := context.Background()
	q := NewRedisQueue(newTestRedis(t), Collection)

	require.NoError(t, q.Push(ctx, &Job{ID: "a1", Priority: PriorityScheduled, RunID: "run-a", Payload: json.RawMessage(`{}`)}))
	_, err := q.Claim(ctx)
	require.NoError(t, err)

	removed, err := q.RemoveRun(ctx, "run-a")
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, depth.Active)
}
