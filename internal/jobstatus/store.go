// Package jobstatus persists ingestion job records with a bounded lifetime.
//
// A record is rewritten in full on every status change. created_at is kept
// from the previous record, updated_at is refreshed and the TTL restarts.
// Writers for one job are serialized by the pipeline, so the stores take no
// per-job locks.
package jobstatus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/ingestd/internal/models"
	"go.uber.org/zap"
)

// DefaultTTL is how long a job record lives after its last write.
const DefaultTTL = time.Hour

var (
	// ErrNotFound means the job is unknown or its record expired.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a write would move a job
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Fields are the optional parts of a status write. A nil field keeps the
// previous value.
type Fields struct {
	DocID  *string
	Error  *string
	Counts map[string]int
}

// Store reads and writes job records.
type Store interface {
	Set(ctx context.Context, jobID string, status models.JobStatus, f Fields) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	// Delete drops a record. Deleting an unknown job is not an error.
	Delete(ctx context.Context, jobID string) error
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

type options struct {
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a store.
type Option func(*options)

// WithTTL sets the record lifetime. Non-positive values keep DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now, logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// nextRecord applies a status write to prev, which is nil for a new job.
func nextRecord(prev *models.Job, jobID string, status models.JobStatus, f Fields, now time.Time) (*models.Job, error) {
	if jobID == "" {
		return nil, errors.New("empty job id")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	ts := now.UTC().Format(models.TimeFormat)
	job := &models.Job{JobID: jobID, Status: status, CreatedAt: ts, UpdatedAt: ts}

	var from models.JobStatus
	if prev != nil {
		from = prev.Status
		job.DocID = prev.DocID
		job.Error = prev.Error
		job.Counts = prev.Counts
		if prev.CreatedAt != "" {
			job.CreatedAt = prev.CreatedAt
		}
	}
	if !from.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, displayStatus(from), status)
	}

	if f.DocID != nil {
		job.DocID = f.DocID
	}
	if f.Error != nil {
		job.Error = f.Error
	}
	if f.Counts != nil {
		job.Counts = make(map[string]int, len(f.Counts))
		for k, v := range f.Counts {
			job.Counts[k] = v
		}
	}
	return job, nil
}

func displayStatus(s models.JobStatus) string {
	if s == "" {
		return "none"
	}
	return string(s)
}

func cloneJob(j *models.Job) *models.Job {
	out := *j
	if j.Counts != nil {
		out.Counts = make(map[string]int, len(j.Counts))
		for k, v := range j.Counts {
			out.Counts[k] = v
		}
	}
	return &out
}
