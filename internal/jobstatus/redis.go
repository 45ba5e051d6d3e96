package jobstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperjump/ingestd/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix namespaces job records in redis.
const KeyPrefix = "job:"

// RedisStore keeps one JSON value per job under "job:{id}" with SET EX.
type RedisStore struct {
	client redis.UniversalClient
	opts   options
}

// NewRedisStore returns a store over client.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	return &RedisStore{client: client, opts: buildOptions(opts)}
}

func key(jobID string) string { return KeyPrefix + jobID }

// Get returns the job record or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := s.client.Get(ctx, key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// Set rewrites the job record and restarts its TTL.
func (s *RedisStore) Set(ctx context.Context, jobID string, status models.JobStatus, f Fields) (*models.Job, error) {
	prev, err := s.Get(ctx, jobID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	job, err := nextRecord(prev, jobID, status, f, s.opts.now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", jobID, err)
	}
	if err := s.client.Set(ctx, key(jobID), data, s.opts.ttl).Err(); err != nil {
		return nil, fmt.Errorf("set job %s: %w", jobID, err)
	}
	s.opts.logger.Info("job status updated",
		zap.String("job_id", jobID),
		zap.String("status", string(status)))
	return job, nil
}

// Delete drops the record.
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, key(jobID)).Err(); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// Ping checks the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
