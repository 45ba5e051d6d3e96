package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hyperjump/ingestd/internal/jobstatus"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/queue"
	"github.com/hyperjump/ingestd/internal/telemetry"
	"go.uber.org/zap"
)

// QueuedMessage is the message returned with every accepted job.
const QueuedMessage = "Job queued for processing"

// ValidationError lists the request fields that failed validation, keyed by
// their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " " + e.Fields[k]
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Submitter accepts ingest requests: it validates them, creates the pending
// job record and enqueues the task.
type Submitter struct {
	jobs     jobstatus.Store
	queue    queue.Queue
	validate *validator.Validate
	newID    func() string
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// NewSubmitter returns a Submitter writing to jobs and q.
func NewSubmitter(jobs jobstatus.Store, q queue.Queue, logger *zap.Logger, metrics *telemetry.Metrics) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Submitter{jobs: jobs, queue: q, validate: v, newID: uuid.NewString, logger: logger, metrics: metrics}
}

// Validate checks req against its struct tags.
func (s *Submitter) Validate(req models.IngestRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, e := range verrs {
		fields[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return &ValidationError{Fields: fields}
}

// Submit accepts req and returns the pending job. When the task cannot be
// enqueued the pending record is removed and the enqueue error returned, so
// no job is left that will never run.
func (s *Submitter) Submit(ctx context.Context, req models.IngestRequest) (*models.IngestResponse, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	jobID := s.newID()
	if _, err := s.jobs.Set(ctx, jobID, models.JobPending, jobstatus.Fields{DocID: models.StringPtr(req.DocID)}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.metrics.JobStatus(string(models.JobPending))

	if err := s.queue.Enqueue(ctx, models.Task{JobID: jobID, Request: req}); err != nil {
		if derr := s.jobs.Delete(ctx, jobID); derr != nil {
			s.logger.Error("remove unqueued job", zap.String("job_id", jobID), zap.Error(derr))
		}
		return nil, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}

	s.logger.Info("job queued",
		zap.String("job_id", jobID),
		zap.String("blob_path", req.BlobPath),
		zap.String("doc_id", req.DocID))
	return &models.IngestResponse{JobID: jobID, Status: models.JobPending, Message: QueuedMessage}, nil
}
