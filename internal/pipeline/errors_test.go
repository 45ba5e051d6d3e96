package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/ingestd/internal/blob"
	"github.com/hyperjump/ingestd/internal/extract"
	"github.com/hyperjump/ingestd/internal/indexer"
	"github.com/hyperjump/ingestd/internal/metadata"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"missing tag", &metadata.MissingTagError{Keys: []string{"tenant"}}, KindMissingRequiredTag},
		{"invalid tag", &metadata.InvalidTagError{Key: "confidentiality", Value: "secret"}, KindInvalidTagValue},
		{"blob not found", fmt.Errorf("get: %w", blob.ErrBlobNotFound), KindBlobNotFound},
		{"access denied", fmt.Errorf("%q: %w", "/x", blob.ErrAccessDenied), KindAccessDenied},
		{"extraction", fmt.Errorf("%w: pdf: eof", extract.ErrExtractionFailed), KindExtractionFailed},
		{"index write", &indexer.IndexWriteError{Backend: indexer.BackendLexical, Failed: 1}, KindIndexWriteFailed},
		{"parity", indexer.ErrParityMismatch, KindParityMismatch},
		{"deadline wins", &indexer.IndexWriteError{Backend: indexer.BackendVector, Err: context.DeadlineExceeded}, KindTimeout},
		{"joined", errors.Join(errors.New("x"), &indexer.IndexWriteError{Backend: indexer.BackendVector}), KindIndexWriteFailed},
		{"other", errors.New("boom"), KindInternal},
		{"stage error keeps kind", &StageError{Stage: StageIndex, Kind: KindAccessDenied, Err: errors.New("x")}, KindAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_Retryable(t *testing.T) {
	for _, k := range []Kind{KindMissingRequiredTag, KindInvalidTagValue, KindBlobNotFound, KindAccessDenied} {
		assert.False(t, k.Retryable(), k)
	}
	for _, k := range []Kind{KindExtractionFailed, KindIndexWriteFailed, KindParityMismatch, KindTimeout, KindInternal} {
		assert.True(t, k.Retryable(), k)
	}
}

func TestStageError_Format(t *testing.T) {
	err := &StageError{Stage: StageMetadata, Kind: KindMissingRequiredTag, Err: &metadata.MissingTagError{Keys: []string{"dataset", "tenant"}}}
	assert.Equal(t, "metadata: missing required tags: [dataset tenant]", err.Error())
	assert.ErrorIs(t, err, metadata.ErrMissingRequiredTag)
}
