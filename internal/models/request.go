package models

// IngestRequest is the job submission payload.
type IngestRequest struct {
	BlobPath string `json:"blob_path" validate:"required,max=1024"`
	DocID    string `json:"doc_id,omitempty" validate:"omitempty,max=256,excludesall=:"`
	Tags     Tags   `json:"tags,omitempty" validate:"omitempty,dive,keys,required,max=64,endkeys,max=1024"`
}

// IngestResponse is returned when a job was accepted.
type IngestResponse struct {
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// Task is the queued unit of work for one ingestion attempt.
type Task struct {
	JobID   string        `json:"job_id"`
	Request IngestRequest `json:"request"`
	Attempt int           `json:"attempt"`
}

// ParityReport is the result of comparing per-document counts across backends.
type ParityReport struct {
	DocID   string `json:"doc_id"`
	Lexical int    `json:"lexical"`
	Vector  int    `json:"vector"`
	Match   bool   `json:"match"`
	Error   string `json:"error,omitempty"`
}
