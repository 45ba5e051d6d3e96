// Package catalog records which documents are indexed and from what content.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/ingestd/internal/models"
)

// ErrNotFound is returned when no record exists for a doc_id.
var ErrNotFound = errors.New("document not found")

// Catalog persists one DocumentRecord per doc_id.
type Catalog interface {
	// Upsert inserts or replaces the record for rec.DocID and sets UpdatedAt.
	Upsert(ctx context.Context, rec *models.DocumentRecord) error
	Get(ctx context.Context, docID string) (*models.DocumentRecord, error)
	// List returns records ordered by most recent update.
	List(ctx context.Context, offset, limit int) ([]*models.DocumentRecord, error)
	Delete(ctx context.Context, docID string) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

// FromTags builds the record for a document from its final metadata.
func FromTags(tags models.Tags, chunkCount int) *models.DocumentRecord {
	rec := &models.DocumentRecord{
		DocID:      tags["doc_id"],
		SHA256:     tags["sha256"],
		BlobPath:   tags["blob_path"],
		Tenant:     tags["tenant"],
		Dataset:    tags["dataset"],
		Tags:       tags.Clone(),
		ChunkCount: chunkCount,
	}
	if ts, err := time.Parse(time.RFC3339, tags["ingested_at"]); err == nil {
		rec.IngestedAt = ts.UTC()
	}
	return rec
}
