// Package models defines core data structures for jobs, tags, chunks, and catalog records.
package models

import (
	"fmt"
	"sort"
	"time"
)

// Tags is a document's metadata tag set: tag name to string value.
type Tags map[string]string

// Clone returns a shallow copy of t. A nil receiver yields an empty, non-nil map.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Keys returns the tag names in sorted order.
func (t Tags) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PageBreak separates pages in extracted text. Extractors that know page
// boundaries emit it between pages.
const PageBreak = "\f"

// Chunk is one retrievable unit of a document. (DocID, ChunkID) is the
// idempotency key shared by both index backends.
type Chunk struct {
	DocID       string    `json:"doc_id"`
	ChunkID     string    `json:"chunk_id"`
	Text        string    `json:"text"`
	IsTable     bool      `json:"is_table"`
	PageStart   *int      `json:"page_start,omitempty"`
	PageEnd     *int      `json:"page_end,omitempty"`
	SectionPath []string  `json:"section_path"`
	TokensEst   float64   `json:"tokens_est"`
	Metadata    Tags      `json:"metadata"`
	Embedding   []float32 `json:"-"`
}

// Key returns the deterministic backend id "{doc_id}:{chunk_id}".
func (c *Chunk) Key() string {
	return ChunkKey(c.DocID, c.ChunkID)
}

// ChunkKey builds the deterministic backend id for a chunk.
func ChunkKey(docID, chunkID string) string {
	return docID + ":" + chunkID
}

// ChunkOrdinal formats a zero-based ordinal as a zero-padded chunk id.
func ChunkOrdinal(i int) string {
	return fmt.Sprintf("%04d", i)
}

// DocumentRecord is the catalog entry written after a document was indexed.
type DocumentRecord struct {
	DocID      string    `json:"doc_id" db:"doc_id"`
	SHA256     string    `json:"sha256" db:"sha256"`
	BlobPath   string    `json:"blob_path" db:"blob_path"`
	Tenant     string    `json:"tenant" db:"tenant"`
	Dataset    string    `json:"dataset" db:"dataset"`
	Tags       Tags      `json:"tags" db:"tags"`
	ChunkCount int       `json:"chunk_count" db:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
