package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/ingestd/internal/blob"
	"github.com/hyperjump/ingestd/internal/jobstatus"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/queue"
	"github.com/hyperjump/ingestd/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	mu       sync.Mutex
	attempts map[string][]int
	errFor   func(task models.Task) error
	done     chan string
}

func newScriptedRunner(errFor func(models.Task) error) *scriptedRunner {
	return &scriptedRunner{attempts: map[string][]int{}, errFor: errFor, done: make(chan string, 16)}
}

func (r *scriptedRunner) Run(_ context.Context, task models.Task) error {
	r.mu.Lock()
	r.attempts[task.JobID] = append(r.attempts[task.JobID], task.Attempt)
	r.mu.Unlock()
	err := r.errFor(task)
	if err == nil || !Retryable(err) || task.Attempt >= DefaultMaxRetries {
		r.done <- task.JobID
	}
	return err
}

func (r *scriptedRunner) attemptsOf(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.attempts[id]...)
}

func noWait(context.Context, time.Duration) error { return nil }

func runPool(t *testing.T, q *queue.MemoryQueue, r *scriptedRunner, metrics *telemetry.Metrics, jobs ...string) {
	t.Helper()
	p, err := NewWorkerPool(q, r, WorkerConfig{Workers: 2, Retry: DefaultRetryPolicy()}, nil, metrics)
	require.NoError(t, err)
	p.sleep = noWait

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- p.Run(ctx) }()

	for _, id := range jobs {
		require.NoError(t, q.Enqueue(context.Background(), models.Task{JobID: id}))
	}
	for range jobs {
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	cancel()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestWorkerPool_RetriesAreBounded(t *testing.T) {
	transient := &StageError{Stage: StageIndex, Kind: KindIndexWriteFailed, Err: errors.New("down")}
	r := newScriptedRunner(func(models.Task) error { return transient })
	q := queue.NewMemoryQueue(4)
	metrics := telemetry.NewMetrics()

	runPool(t, q, r, metrics, "j1")

	assert.Equal(t, []int{0, 1, 2}, r.attemptsOf("j1"))
	assert.Equal(t, 0, q.InFlight(), "delivery acked after final attempt")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Retries))
}

func TestWorkerPool_NonRetryableRunsOnce(t *testing.T) {
	r := newScriptedRunner(func(models.Task) error {
		return &StageError{Stage: StageDownload, Kind: KindBlobNotFound, Err: blob.ErrBlobNotFound}
	})
	q := queue.NewMemoryQueue(4)

	runPool(t, q, r, nil, "j1")

	assert.Equal(t, []int{0}, r.attemptsOf("j1"))
	assert.Equal(t, 0, q.InFlight())
}

func TestWorkerPool_SucceedsAfterRetry(t *testing.T) {
	r := newScriptedRunner(func(task models.Task) error {
		if task.Attempt == 0 {
			return context.DeadlineExceeded
		}
		return nil
	})
	q := queue.NewMemoryQueue(4)

	runPool(t, q, r, nil, "a", "b", "c")

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, []int{0, 1}, r.attemptsOf(id), id)
	}
	assert.Equal(t, 0, q.InFlight())
}

func TestWorkerPool_EndToEndWithOrchestrator(t *testing.T) {
	h := newHarness(t)
	h.put(t, "/acme/hr/a.txt", "first\n\nsecond")
	o := h.orchestrator(t)
	sub := NewSubmitter(h.jobs, h.queue, nil, nil)
	resp, err := sub.Submit(context.Background(), models.IngestRequest{BlobPath: "/acme/hr/a.txt"})
	require.NoError(t, err)

	p, err := NewWorkerPool(h.queue, o, WorkerConfig{Workers: 1, Retry: DefaultRetryPolicy()}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := h.jobs.Get(context.Background(), resp.JobID)
		return err == nil && job.Status == models.JobDone
	}, 5*time.Second, 10*time.Millisecond)
	job, _ := h.jobs.Get(context.Background(), resp.JobID)
	assert.Equal(t, 2, job.Counts[CountChunks])
}

func TestNewWorkerPool_RequiresQueueAndRunner(t *testing.T) {
	_, err := NewWorkerPool(nil, nil, WorkerConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.n), "retry %d", tt.n)
	}
	assert.Zero(t, RetryPolicy{}.Backoff(3))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()
	transient := errors.New("connection refused")
	assert.True(t, p.ShouldRetry(0, transient))
	assert.True(t, p.ShouldRetry(1, transient))
	assert.False(t, p.ShouldRetry(2, transient))
	assert.False(t, p.ShouldRetry(0, nil))
	assert.False(t, p.ShouldRetry(0, ErrJobFinished))
	assert.False(t, p.ShouldRetry(0, &StageError{Stage: StageMetadata, Kind: KindInvalidTagValue, Err: errors.New("x")}))
}

func TestSubmitter_Validation(t *testing.T) {
	jobs := jobstatus.NewMemoryStore()
	s := NewSubmitter(jobs, queue.NewMemoryQueue(1), nil, nil)
	tests := []struct {
		name  string
		req   models.IngestRequest
		field string
	}{
		{"missing blob path", models.IngestRequest{}, "blob_path"},
		{"colon in doc id", models.IngestRequest{BlobPath: "/a/b/c.txt", DocID: "a:b"}, "doc_id"},
		{"empty tag key", models.IngestRequest{BlobPath: "/a/b/c.txt", Tags: models.Tags{"": "x"}}, "tags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Submit(context.Background(), tt.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.field)
		})
	}
	assert.Equal(t, 0, jobs.Len(), "no job created for invalid requests")
}

func TestSubmitter_EnqueueFailureLeavesNoJob(t *testing.T) {
	jobs := jobstatus.NewMemoryStore()
	q := queue.NewMemoryQueue(1)
	require.NoError(t, q.Close())
	s := NewSubmitter(jobs, q, nil, nil)
	s.newID = func() string { return "fixed-id" }

	_, err := s.Submit(context.Background(), models.IngestRequest{BlobPath: "/a/b/c.txt"})
	require.ErrorIs(t, err, queue.ErrClosed)

	_, err = jobs.Get(context.Background(), "fixed-id")
	assert.ErrorIs(t, err, jobstatus.ErrNotFound)
	assert.Equal(t, 0, jobs.Len())
}

func TestSubmitter_Accepts(t *testing.T) {
	jobs := jobstatus.NewMemoryStore()
	q := queue.NewMemoryQueue(1)
	s := NewSubmitter(jobs, q, nil, nil)

	resp, err := s.Submit(context.Background(), models.IngestRequest{BlobPath: "/a/b/c.txt", DocID: "doc-7"})
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, resp.Status)
	assert.Equal(t, QueuedMessage, resp.Message)
	assert.Len(t, resp.JobID, 36)

	job, err := jobs.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "doc-7", *job.DocID)

	d, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, d.Task.JobID)
	assert.Equal(t, 0, d.Task.Attempt)
}
