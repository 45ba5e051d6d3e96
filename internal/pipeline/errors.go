package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/ingestd/internal/blob"
	"github.com/hyperjump/ingestd/internal/extract"
	"github.com/hyperjump/ingestd/internal/indexer"
	"github.com/hyperjump/ingestd/internal/metadata"
)

// Kind classifies a stage failure.
type Kind string

const (
	KindMissingRequiredTag Kind = "missing_required_tag"
	KindInvalidTagValue    Kind = "invalid_tag_value"
	KindBlobNotFound       Kind = "blob_not_found"
	KindAccessDenied       Kind = "access_denied"
	KindExtractionFailed   Kind = "extraction_failed"
	KindIndexWriteFailed   Kind = "index_write_failed"
	KindParityMismatch     Kind = "parity_mismatch"
	KindTimeout            Kind = "timeout"
	KindInternal           Kind = "internal"
)

var (
	// ErrJobFinished is returned by Run when the job already reached a
	// terminal state, e.g. on redelivery of a completed task.
	ErrJobFinished = errors.New("job already finished")
	// ErrMissingDependency is returned by constructors missing a collaborator.
	ErrMissingDependency = errors.New("missing pipeline dependency")
)

// kindSentinels is checked in order; deadline first so a timeout inside a
// backend call is not reported as that backend's failure.
var kindSentinels = []struct {
	err  error
	kind Kind
}{
	{context.DeadlineExceeded, KindTimeout},
	{metadata.ErrMissingRequiredTag, KindMissingRequiredTag},
	{metadata.ErrInvalidTagValue, KindInvalidTagValue},
	{blob.ErrBlobNotFound, KindBlobNotFound},
	{blob.ErrAccessDenied, KindAccessDenied},
	{extract.ErrExtractionFailed, KindExtractionFailed},
	{indexer.ErrIndexWriteFailed, KindIndexWriteFailed},
	{indexer.ErrParityMismatch, KindParityMismatch},
}

// KindOf maps err onto a Kind using errors.Is.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindInternal
}

// Retryable reports whether another attempt could succeed. Tag problems and
// missing or forbidden blobs will not change between attempts.
func (k Kind) Retryable() bool {
	switch k {
	case KindMissingRequiredTag, KindInvalidTagValue, KindBlobNotFound, KindAccessDenied:
		return false
	}
	return true
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrJobFinished) {
		return false
	}
	return KindOf(err).Retryable()
}

// StageError is the failure of one named pipeline stage.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

// Error renders "{stage}: {err}", the form stored on the job record.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
