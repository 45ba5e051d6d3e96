package jobstatus

import (
	"context"
	"sync"
	"time"

	"github.com/hyperjump/ingestd/internal/models"
	"go.uber.org/zap"
)

type memEntry struct {
	job     *models.Job
	expires time.Time
}

// MemoryStore is an in-process Store. Expired records are dropped lazily on
// access.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]memEntry
	opts options
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{jobs: make(map[string]memEntry), opts: buildOptions(opts)}
}

func (s *MemoryStore) lookup(jobID string, now time.Time) *models.Job {
	e, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	if !now.Before(e.expires) {
		delete(s.jobs, jobID)
		return nil
	}
	return e.job
}

// Get returns a copy of the job record or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.lookup(jobID, s.opts.now())
	if job == nil {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

// Set rewrites the job record and restarts its TTL.
func (s *MemoryStore) Set(ctx context.Context, jobID string, status models.JobStatus, f Fields) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.now()
	job, err := nextRecord(s.lookup(jobID, now), jobID, status, f, now)
	if err != nil {
		return nil, err
	}
	s.jobs[jobID] = memEntry{job: job, expires: now.Add(s.opts.ttl)}
	s.opts.logger.Info("job status updated",
		zap.String("job_id", jobID),
		zap.String("status", string(status)))
	return cloneJob(job), nil
}

// Delete drops the record.
func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of records, including expired ones not yet evicted.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
