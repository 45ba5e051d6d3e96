package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id string) models.Task {
	return models.Task{JobID: id, Request: models.IngestRequest{BlobPath: "/acme/hr/" + id + ".txt"}}
}

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisQueue(client, "", nil)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func newConsumer(t *testing.T, mr *miniredis.Miniredis, id string) *RedisQueue {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisQueue(client, "", nil, WithConsumer(id), WithLease(30*time.Second))
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue_FIFO(t *testing.T) {
	rq, _ := newRedisQueue(t)
	queues := map[string]Queue{
		"memory": NewMemoryQueue(8),
		"redis":  rq,
	}
	for name, q := range queues {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, q.Enqueue(ctx, task(id)))
			}
			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 3, n)

			for _, want := range []string{"a", "b", "c"} {
				d, err := q.Dequeue(ctx)
				require.NoError(t, err)
				assert.Equal(t, want, d.Task.JobID)
				assert.Equal(t, "/acme/hr/"+want+".txt", d.Task.Request.BlobPath)
				require.NoError(t, q.Ack(ctx, d))
			}
		})
	}
}

func TestQueue_DequeueHonoursContext(t *testing.T) {
	rq, _ := newRedisQueue(t)
	for name, q := range map[string]Queue{"memory": NewMemoryQueue(1), "redis": rq} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err := q.Dequeue(ctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestQueue_Closed(t *testing.T) {
	rq, _ := newRedisQueue(t)
	for name, q := range map[string]Queue{"memory": NewMemoryQueue(1), "redis": rq} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Close())
			assert.ErrorIs(t, q.Enqueue(context.Background(), task("x")), ErrClosed)
			_, err := q.Dequeue(context.Background())
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestRedisQueue_AckRemovesFromProcessing(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, task("a")))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	processing, err := mr.List(q.processingKey(q.Consumer()))
	require.NoError(t, err)
	assert.Len(t, processing, 1)

	require.NoError(t, q.Ack(ctx, d))
	assert.False(t, mr.Exists(q.processingKey(q.Consumer())))
}

func TestRedisQueue_RecoverRequeuesUnacked(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, task("a")))
	require.NoError(t, q.Enqueue(ctx, task("b")))

	// Claimed twice, never acked: a crashed worker.
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		d, err := q.Dequeue(ctx)
		require.NoError(t, err)
		got[d.Task.JobID] = true
		require.NoError(t, q.Ack(ctx, d))
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, got)

	moved, err = q.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestRedisQueue_DropsUndecodable(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()
	_, err := mr.Lpush(DefaultRedisKey, "{not json")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task("ok")))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", d.Task.JobID)
	processing, err := mr.List(q.processingKey(q.Consumer()))
	require.NoError(t, err)
	assert.Len(t, processing, 1)
}

func TestMemoryQueue_InFlight(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, task("a")))
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, q.InFlight())
	require.NoError(t, q.Ack(ctx, d))
	assert.Equal(t, 0, q.InFlight())
	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestRedisQueue_RecoverLeavesLiveConsumersAlone(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newConsumer(t, mr, "a")
	b := newConsumer(t, mr, "b")
	ctx := context.Background()

	require.NoError(t, a.Enqueue(ctx, task("j1")))
	d, err := a.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", d.Task.JobID)

	// b starts while a is still running j1.
	moved, err := b.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "j1 must not be handed to a second worker")

	held, err := mr.List(a.processingKey("a"))
	require.NoError(t, err)
	assert.Len(t, held, 1)
	require.NoError(t, a.Ack(ctx, d))
	assert.False(t, mr.Exists(a.processingKey("a")))
}

func TestRedisQueue_RecoverRequeuesExpiredConsumer(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newConsumer(t, mr, "a")
	ctx := context.Background()

	require.NoError(t, a.Enqueue(ctx, task("j1")))
	_, err := a.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// a crashed: its lease runs out.
	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists(a.heartbeatKey("a")))

	b := newConsumer(t, mr, "b")
	moved, err := b.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	d, err := b.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", d.Task.JobID)
	require.NoError(t, b.Ack(ctx, d))

	members, err := mr.Members(DefaultRedisKey + ":consumers")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}
