package models

import "time"

// JobStatus is the lifecycle state of an ingestion job. The string values are
// part of the wire format.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the four known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobDone, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// CanTransition reports whether moving from s to next is allowed.
// processing -> processing is permitted so a redelivered task can restart.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case "":
		return next == JobPending || next == JobProcessing
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobProcessing || next.Terminal()
	}
	return false
}

// TimeFormat is the wire format of job timestamps.
const TimeFormat = time.RFC3339Nano

// Job is the persisted, wire-visible job record.
type Job struct {
	JobID     string         `json:"job_id"`
	Status    JobStatus      `json:"status"`
	DocID     *string        `json:"doc_id,omitempty"`
	Error     *string        `json:"error,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
