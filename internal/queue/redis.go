// Package queue implements the durable ingestion queue that decouples the
// webhook receiver from downstream processing: an ordered redis list for
// ready entries plus a sorted set holding retries until they become eligible.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memograph-systems/crmsync/internal/models"
)

// ErrQueueFull is returned when the queue is at capacity; the receiver maps
// it to a retryable rejection so the CRM redelivers.
var ErrQueueFull = errors.New("ingestion queue full")

// Ingestion is the queue contract shared by the receiver, the worker pool and
// dead letter reprocessing.
type Ingestion interface {
	Enqueue(ctx context.Context, entry models.QueueEntry) error
	DequeueBatch(ctx context.Context, max int, wait time.Duration) ([]models.QueueEntry, error)
	Requeue(ctx context.Context, entry models.QueueEntry) error
	ScheduleRetry(ctx context.Context, entry models.QueueEntry) error
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	Depth(ctx context.Context) (int64, error)
	Capacity() int64
	Ping(ctx context.Context) error
}

// Lua keeps the capacity check and the push in one atomic step, so concurrent
// receivers cannot overshoot the configured maximum.
var enqueueScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// promoteScript atomically moves due retry entries from the schedule onto the
// back of the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], 0, ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('RPUSH', KEYS[2], member)
end
return #due
`)

// RedisQueue is the redis implementation of Ingestion.
type RedisQueue struct {
	client   *redis.Client
	capacity int64
	listKey  string
	retryKey string
}

func NewRedisQueue(client *redis.Client, capacity int64) *RedisQueue {
	if capacity <= 0 {
		capacity = 10000
	}
	return &RedisQueue{
		client:   client,
		capacity: capacity,
		listKey:  "crmsync:queue",
		retryKey: "crmsync:queue:retry",
	}
}

// Enqueue appends the entry to the back of the queue, failing with
// ErrQueueFull at capacity.
func (q *RedisQueue) Enqueue(ctx context.Context, entry models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	res, err := enqueueScript.Run(ctx, q.client, []string{q.listKey}, q.capacity, data).Int()
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if res == 0 {
		return ErrQueueFull
	}
	return nil
}

// DequeueBatch blocks up to wait for the first entry, then drains up to
// max-1 more without blocking. A timeout with an empty queue returns an empty
// batch and no error, so worker loops wake periodically for shutdown checks.
func (q *RedisQueue) DequeueBatch(ctx context.Context, max int, wait time.Duration) ([]models.QueueEntry, error) {
	if max <= 0 {
		max = 1
	}

	res, err := q.client.BLPop(ctx, wait, q.listKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	raw := []string{res[1]}
	if max > 1 {
		extra, err := q.client.LPopCount(ctx, q.listKey, max-1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("dequeue batch: %w", err)
		}
		raw = append(raw, extra...)
	}

	entries := make([]models.QueueEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.QueueEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			// A corrupt entry cannot be processed or retried; drop it
			// rather than poisoning the batch.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Requeue puts an entry back at the end of the queue unconditionally. Used
// for shutdown-abandoned work and dead letter re-injection, where dropping
// the entry would lose it; capacity is not enforced here.
func (q *RedisQueue) Requeue(ctx context.Context, entry models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := q.client.RPush(ctx, q.listKey, data).Err(); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// ScheduleRetry parks the entry on the retry schedule until NextEligibleAt.
func (q *RedisQueue) ScheduleRetry(ctx context.Context, entry models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	member := redis.Z{
		Score:  float64(entry.NextEligibleAt.UnixMilli()),
		Member: data,
	}
	if err := q.client.ZAdd(ctx, q.retryKey, member).Err(); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// PromoteDue moves retry entries whose eligibility time has passed onto the
// ready list, returning how many were promoted.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	promoted, err := promoteScript.Run(ctx, q.client,
		[]string{q.retryKey, q.listKey}, now.UnixMilli(), 100).Int()
	if err != nil {
		return 0, fmt.Errorf("promote retries: %w", err)
	}
	return promoted, nil
}

// Depth returns the number of ready entries.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.LLen(ctx, q.listKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// Capacity returns the configured maximum queue size.
func (q *RedisQueue) Capacity() int64 {
	return q.capacity
}

// Ping reports queue connectivity for health checks.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue ping: %w", err)
	}
	return nil
}
