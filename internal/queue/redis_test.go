package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memograph-systems/crmsync/internal/models"
)

func newTestQueue(t *testing.T, capacity int64) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, capacity), mr
}

func testEntry(eventID string) models.QueueEntry {
	event := models.WebhookEvent{
		EventID:   eventID,
		Module:    models.ModuleAccounts,
		EventType: models.EventUpdate,
		RecordIDs: []string{"ACC-1"},
	}
	return models.NewQueueEntry(event, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestEnqueueDequeue_FIFO(t *testing.T) {
	q, _ := newTestQueue(t, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, testEntry(fmt.Sprintf("ev-%d", i))))
	}

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), depth)

	batch, err := q.DequeueBatch(ctx, 5, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 5)
	for i, entry := range batch {
		assert.Equal(t, fmt.Sprintf("ev-%d", i), entry.Event.EventID)
	}
}

func TestEnqueue_CapacityRejection(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testEntry("ev-1")))
	require.NoError(t, q.Enqueue(ctx, testEntry("ev-2")))

	err := q.Enqueue(ctx, testEntry("ev-3"))
	assert.ErrorIs(t, err, ErrQueueFull)

	// The rejected entry was not partially written.
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestRequeue_BypassesCapacity(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testEntry("ev-1")))
	require.NoError(t, q.Requeue(ctx, testEntry("ev-2")))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestDequeueBatch_EmptyAfterWait(t *testing.T) {
	q, _ := newTestQueue(t, 10)

	start := time.Now()
	batch, err := q.DequeueBatch(context.Background(), 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDequeueBatch_PartialBatch(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testEntry("ev-1")))
	require.NoError(t, q.Enqueue(ctx, testEntry("ev-2")))

	// Batch size larger than the backlog returns what is there.
	batch, err := q.DequeueBatch(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestDequeueBatch_SkipsCorruptEntries(t *testing.T) {
	q, mr := newTestQueue(t, 10)
	ctx := context.Background()

	_, err := mr.Push(q.listKey, "{not json")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, testEntry("ev-1")))

	batch, err := q.DequeueBatch(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "ev-1", batch[0].Event.EventID)
}

func TestScheduleRetry_PromoteDue(t *testing.T) {
	q, _ := newTestQueue(t, 10)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due := testEntry("ev-due").NextAttempt(now, now.Add(2*time.Second))
	future := testEntry("ev-future").NextAttempt(now, now.Add(time.Minute))
	require.NoError(t, q.ScheduleRetry(ctx, due))
	require.NoError(t, q.ScheduleRetry(ctx, future))

	// Nothing is eligible yet.
	promoted, err := q.PromoteDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)

	// Only the first entry comes due.
	promoted, err = q.PromoteDue(ctx, now.Add(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	batch, err := q.DequeueBatch(ctx, 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "ev-due", batch[0].Event.EventID)
	assert.Equal(t, 1, batch[0].AttemptCount)

	// The later entry promotes once its time passes.
	promoted, err = q.PromoteDue(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
}

func TestPing(t *testing.T) {
	q, mr := newTestQueue(t, 10)
	require.NoError(t, q.Ping(context.Background()))

	mr.Close()
	assert.Error(t, q.Ping(context.Background()))
}
