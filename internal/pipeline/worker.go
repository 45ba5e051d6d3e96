package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/queue"
	"github.com/hyperjump/ingestd/internal/telemetry"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Runner executes one attempt of a task. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, task models.Task) error
}

// WorkerConfig sizes the pool and its retry behavior. Retry.MaxRetries must
// match the runner's own retry budget so the last attempt marks the job
// failed.
type WorkerConfig struct {
	Workers int
	Retry   RetryPolicy
}

// WorkerPool pulls deliveries from a queue and runs them on an ants pool.
type WorkerPool struct {
	queue   queue.Queue
	runner  Runner
	cfg     WorkerConfig
	logger  *zap.Logger
	metrics *telemetry.Metrics
	sleep   func(context.Context, time.Duration) error
}

// NewWorkerPool creates a pool. Workers <= 0 means runtime.NumCPU().
func NewWorkerPool(q queue.Queue, runner Runner, cfg WorkerConfig, logger *zap.Logger, metrics *telemetry.Metrics) (*WorkerPool, error) {
	if q == nil || runner == nil {
		return nil, fmt.Errorf("%w: queue and runner are required", ErrMissingDependency)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{queue: q, runner: runner, cfg: cfg, logger: logger, metrics: metrics, sleep: sleep}, nil
}

// Run requeues unacked deliveries, then consumes the queue until ctx is
// done or the queue is closed. Claimed tasks finish even after ctx is
// cancelled; Run returns once they have.
func (w *WorkerPool) Run(ctx context.Context) error {
	if n, err := w.queue.Recover(ctx); err != nil {
		w.logger.Warn("queue recovery failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("recovered unacked tasks", zap.Int("count", n))
	}

	pool, err := ants.NewPool(w.cfg.Workers, ants.WithPanicHandler(func(p interface{}) {
		w.logger.Error("worker panic", zap.Any("panic", p))
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	w.logger.Info("workers started", zap.Int("workers", w.cfg.Workers))
	// Claimed jobs are not cancelled on shutdown.
	jobCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				break
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			if w.sleep(ctx, time.Second) != nil {
				break
			}
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			w.handle(jobCtx, d)
		}); err != nil {
			wg.Done()
			w.logger.Error("submit failed, leaving task for recovery",
				zap.String("job_id", d.Task.JobID), zap.Error(err))
		}
	}
	wg.Wait()
	w.logger.Info("workers stopped")
	return nil
}

// handle runs a delivery with bounded retries and acks it once the job is
// terminal.
func (w *WorkerPool) handle(ctx context.Context, d *queue.Delivery) {
	w.metrics.WorkerBusy(1)
	defer w.metrics.WorkerBusy(-1)

	task := d.Task
	for {
		err := w.runner.Run(ctx, task)
		if !w.cfg.Retry.ShouldRetry(task.Attempt, err) {
			break
		}
		task.Attempt++
		delay := w.cfg.Retry.Backoff(task.Attempt)
		w.metrics.Retry()
		w.logger.Warn("retrying job",
			zap.String("job_id", task.JobID),
			zap.Int("attempt", task.Attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if err := w.sleep(ctx, delay); err != nil {
			return
		}
	}
	if err := w.queue.Ack(ctx, d); err != nil {
		w.logger.Error("ack failed", zap.String("job_id", task.JobID), zap.Error(err))
	}
}
