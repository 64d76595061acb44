package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the Redis-backed storage for one named queue: a waiting
// sorted set (score orders by priority then FIFO sequence), a delayed
// sorted set (score is the retry-ready unix time) for back-off, an active
// set for in-flight jobs, and a hash holding job bodies. Key naming follows
// kvstore's "queue:<name>:waiting|active|delayed" convention.
type RedisQueue struct {
	rdb  *redis.Client
	name string
}

// NewRedisQueue wraps an existing go-redis client for the named queue.
func NewRedisQueue(rdb *redis.Client, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name}
}

func (q *RedisQueue) waitingKey() string { return "queue:" + q.name + ":waiting" }
func (q *RedisQueue) delayedKey() string { return "queue:" + q.name + ":delayed" }
func (q *RedisQueue) activeKey() string  { return "queue:" + q.name + ":active" }
func (q *RedisQueue) jobsKey() string    { return "queue:" + q.name + ":jobs" }
func (q *RedisQueue) seqKey() string     { return "queue:" + q.name + ":seq" }

// claimScript atomically pops the lowest-scored member of the waiting set
// and moves it into the active set, mirroring the FOR UPDATE SKIP LOCKED
// claim performed against a relational table, adapted to a Redis sorted set.
var claimScript = redis.NewScript(`
local members = redis.call("ZRANGE", KEYS[1], 0, 0)
if #members == 0 then
	return false
end
redis.call("ZREM", KEYS[1], members[1])
redis.call("SADD", KEYS[2], members[1])
return members[1]
`)

// Push stores the job body and inserts it into the waiting set, ordered by
// priority and then insertion sequence within the same priority.
func (q *RedisQueue) Push(ctx context.Context, job *Job) error {
	seq, err := q.rdb.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("queue push: sequence: %w", err)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue push: marshal job: %w", err)
	}

	score := float64(job.Priority)*1e15 + float64(seq)

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobsKey(), job.ID, body)
	pipe.ZAdd(ctx, q.waitingKey(), redis.Z{Score: score, Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue push: %w", err)
	}
	return nil
}

// Claim atomically removes and returns the highest-priority waiting job.
func (q *RedisQueue) Claim(ctx context.Context) (*Job, error) {
	res, err := claimScript.Run(ctx, q.rdb, []string{q.waitingKey(), q.activeKey()}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue claim: %w", err)
	}
	id, ok := res.(string)
	if !ok || id == "" {
		return nil, ErrNoJobAvailable
	}
	return q.loadJob(ctx, id)
}

func (q *RedisQueue) loadJob(ctx context.Context, id string) (*Job, error) {
	body, err := q.rdb.HGet(ctx, q.jobsKey(), id).Result()
	if err != nil {
		return nil, fmt.Errorf("queue load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("queue unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// Ack removes a completed job from the active set and, depending on
// removeOnComplete, drops its body immediately or leaves it in the job hash;
// nothing trims retained bodies later.
func (q *RedisQueue) Ack(ctx context.Context, job *Job, removeOnComplete bool) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.activeKey(), job.ID)
	if removeOnComplete {
		pipe.HDel(ctx, q.jobsKey(), job.ID)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue ack: %w", err)
	}
	return nil
}

// Requeue moves a job back to the delayed set with an exponential back-off
// computed from its current attempt count. It always requeues: the caller
// checks the attempt budget and calls Fail instead once it is exhausted.
func (q *RedisQueue) Requeue(ctx context.Context, job *Job) error {
	job.Attempts++

	backoff := job.BackoffBase << uint(job.Attempts-1)
	readyAt := time.Now().Add(backoff)

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue requeue: marshal job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.activeKey(), job.ID)
	pipe.HSet(ctx, q.jobsKey(), job.ID, body)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue requeue: %w", err)
	}
	return nil
}

// Fail removes a permanently-failed job from the active set, optionally
// dropping its body per removeOnFail.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, removeOnFail bool) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.activeKey(), job.ID)
	if removeOnFail {
		pipe.HDel(ctx, q.jobsKey(), job.ID)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue fail: %w", err)
	}
	return nil
}

// PromoteReady moves every delayed member whose ready score has elapsed
// back into the waiting set, preserving priority order via the same score
// formula Push uses (delayed jobs keep their original priority encoded in
// job.Priority, re-read from the job hash).
func (q *RedisQueue) PromoteReady(ctx context.Context) (int, error) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue promote: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			continue
		}
		seq, err := q.rdb.Incr(ctx, q.seqKey()).Result()
		if err != nil {
			continue
		}
		score := float64(job.Priority)*1e15 + float64(seq)

		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.delayedKey(), id)
		pipe.ZAdd(ctx, q.waitingKey(), redis.Z{Score: score, Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			continue
		}
		promoted++
	}
	return promoted, nil
}

// Depth reports the number of jobs waiting, active, and delayed.
type Depth struct {
	Waiting int64
	Active  int64
	Delayed int64
}

// Depth returns the current queue depth across all three sets.
func (q *RedisQueue) Depth(ctx context.Context) (Depth, error) {
	pipe := q.rdb.Pipeline()
	wCmd := pipe.ZCard(ctx, q.waitingKey())
	aCmd := pipe.SCard(ctx, q.activeKey())
	dCmd := pipe.ZCard(ctx, q.delayedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, fmt.Errorf("queue depth: %w", err)
	}
	return Depth{Waiting: wCmd.Val(), Active: aCmd.Val(), Delayed: dCmd.Val()}, nil
}

// RemoveRun scans the waiting, active, and delayed sets for jobs carrying
// run_id and removes them, returning the count removed, as part of
// cancelling a run's remaining queued work.
func (q *RedisQueue) RemoveRun(ctx context.Context, runID string) (removed int, err error) {
	for _, key := range []string{q.waitingKey(), q.delayedKey()} {
		ids, zErr := q.rdb.ZRange(ctx, key, 0, -1).Result()
		if zErr != nil {
			return removed, fmt.Errorf("queue remove run: %w", zErr)
		}
		removed += q.removeMatching(ctx, key, true, ids, runID)
	}

	ids, sErr := q.rdb.SMembers(ctx, q.activeKey()).Result()
	if sErr != nil {
		return removed, fmt.Errorf("queue remove run: %w", sErr)
	}
	removed += q.removeMatching(ctx, q.activeKey(), false, ids, runID)

	return removed, nil
}

func (q *RedisQueue) removeMatching(ctx context.Context, key string, sorted bool, ids []string, runID string) int {
	removed := 0
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil || job.RunID != runID {
			continue
		}
		if sorted {
			q.rdb.ZRem(ctx, key, id)
		} else {
			q.rdb.SRem(ctx, key, id)
		}
		q.rdb.HDel(ctx, q.jobsKey(), id)
		removed++
	}
	return removed
}
