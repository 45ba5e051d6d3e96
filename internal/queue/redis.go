package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisKey is the list holding pending tasks. Each consumer claims
// tasks into its own DefaultRedisKey + ":processing:{consumer}" list.
const DefaultRedisKey = "ingestd:queue"

// DefaultLease is how long a consumer stays alive without a heartbeat.
const DefaultLease = 30 * time.Second

// pollInterval bounds each BLMOVE so a cancelled context is noticed.
const pollInterval = time.Second

// RedisQueue is a reliable list queue: LPUSH to enqueue, BLMOVE into a
// per-consumer processing list to claim, LREM to ack. Consumers that
// dequeue keep a heartbeat key alive; Recover only requeues the lists of
// consumers whose heartbeat expired, plus its own.
type RedisQueue struct {
	client   redis.UniversalClient
	key      string
	consumer string
	lease    time.Duration
	logger   *zap.Logger

	closed    atomic.Bool
	beatOnce  sync.Once
	closeOnce sync.Once
	stop      chan struct{}
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithConsumer sets the consumer id. A stable id lets a restarted worker
// reclaim its own unacked tasks immediately.
func WithConsumer(id string) RedisOption {
	return func(q *RedisQueue) {
		if id != "" {
			q.consumer = id
		}
	}
}

// WithLease sets the heartbeat lease.
func WithLease(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// NewRedisQueue returns a queue stored under key (DefaultRedisKey when empty).
func NewRedisQueue(client redis.UniversalClient, key string, logger *zap.Logger, opts ...RedisOption) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &RedisQueue{
		client:   client,
		key:      key,
		consumer: defaultConsumerID(),
		lease:    DefaultLease,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func defaultConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Consumer returns the consumer id.
func (q *RedisQueue) Consumer() string { return q.consumer }

func (q *RedisQueue) consumersKey() string { return q.key + ":consumers" }

func (q *RedisQueue) processingKey(consumer string) string {
	return q.key + ":processing:" + consumer
}

func (q *RedisQueue) heartbeatKey(consumer string) string {
	return q.key + ":consumer:" + consumer
}

// heartbeat registers the consumer and renews its lease.
func (q *RedisQueue) heartbeat(ctx context.Context) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, q.consumersKey(), q.consumer)
		p.Set(ctx, q.heartbeatKey(q.consumer), time.Now().UTC().Format(time.RFC3339), q.lease)
		return nil
	})
	return err
}

// startHeartbeat renews the lease every third of it until Close. It runs
// independently of Dequeue so long jobs keep their claim. Once per lease it
// also requeues tasks of expired consumers.
func (q *RedisQueue) startHeartbeat(ctx context.Context) error {
	if err := q.heartbeat(ctx); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	q.beatOnce.Do(func() {
		go q.beatLoop()
	})
	return nil
}

func (q *RedisQueue) beatLoop() {
	t := time.NewTicker(q.lease / 3)
	defer t.Stop()
	for tick := 1; ; tick++ {
		select {
		case <-q.stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), q.lease/3)
		if err := q.heartbeat(ctx); err != nil {
			q.logger.Warn("queue heartbeat failed", zap.String("consumer", q.consumer), zap.Error(err))
		} else if tick%3 == 0 {
			if _, err := q.recover(ctx, false); err != nil {
				q.logger.Warn("requeue of expired consumers failed", zap.Error(err))
			}
		}
		cancel()
	}
}

// Enqueue pushes task onto the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, task models.Task) error {
	if q.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.JobID, err)
	}
	return nil
}

// Dequeue claims the oldest task by moving it into this consumer's
// processing list.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	if err := q.startHeartbeat(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	processing := q.processingKey(q.consumer)
	for {
		if q.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := q.client.BLMove(ctx, q.key, processing, "RIGHT", "LEFT", pollInterval).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}
		var task models.Task
		if err := json.Unmarshal(raw, &task); err != nil {
			// Drop poison entries so they are not recovered forever.
			q.logger.Error("dropping undecodable task", zap.ByteString("payload", raw), zap.Error(err))
			_ = q.client.LRem(ctx, processing, 1, raw).Err()
			continue
		}
		return &Delivery{Task: task, raw: raw}, nil
	}
}

// Ack removes the delivery from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil || d.raw == nil {
		return nil
	}
	if err := q.client.LRem(ctx, q.processingKey(q.consumer), 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", d.Task.JobID, err)
	}
	return nil
}

// Recover moves unacked tasks back to the head of the queue: those in this
// consumer's own processing list and those held by consumers whose lease
// expired. Lists of live consumers are left alone. Call it before starting
// workers.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	if err := q.startHeartbeat(ctx); err != nil {
		return 0, err
	}
	return q.recover(ctx, true)
}

func (q *RedisQueue) recover(ctx context.Context, self bool) (int, error) {
	consumers, err := q.client.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("recover: list consumers: %w", err)
	}
	total := 0
	for _, c := range consumers {
		if c == q.consumer {
			if !self {
				continue
			}
		} else {
			alive, err := q.client.Exists(ctx, q.heartbeatKey(c)).Result()
			if err != nil {
				return total, fmt.Errorf("recover: check %s: %w", c, err)
			}
			if alive > 0 {
				continue
			}
		}
		n, err := q.drain(ctx, q.processingKey(c))
		total += n
		if err != nil {
			return total, err
		}
		if c != q.consumer {
			_ = q.client.SRem(ctx, q.consumersKey(), c).Err()
			if n > 0 {
				q.logger.Info("requeued tasks of expired consumer", zap.String("consumer", c), zap.Int("count", n))
			}
		}
	}
	return total, nil
}

func (q *RedisQueue) drain(ctx context.Context, list string) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, list, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", list, err)
		}
		n++
	}
}

// Len returns the number of tasks waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close stops further Enqueue and Dequeue calls and the heartbeat. The
// lease is left to expire so in-flight tasks stay claimed until then. The
// client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.stop)
	})
	return nil
}
