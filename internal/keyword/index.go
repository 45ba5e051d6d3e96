// Package keyword provides the lexical (keyword) side of the dual index.
package keyword

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/ingestd/internal/models"
)

// DefaultAlias is the index name chunks are written to when none is configured.
const DefaultAlias = "chunks_current"

// Item is one document to upsert, keyed by its deterministic id.
type Item struct {
	ID  string
	Doc map[string]interface{}
}

// ItemError reports why a single item was not written.
type ItemError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (e ItemError) String() string {
	return e.ID + ": " + e.Reason
}

// BulkResult is the outcome of a bulk upsert. Items not listed in Errors were written.
type BulkResult struct {
	Indexed int
	Errors  []ItemError
}

// Filter restricts Count and DeleteStale to one document.
type Filter struct {
	DocID string
}

// LexicalIndex stores chunks in named indexes with upsert-by-id semantics.
type LexicalIndex interface {
	// BulkUpsert writes items; per-item failures are reported in the result, not as an error.
	BulkUpsert(ctx context.Context, alias string, items []Item) (BulkResult, error)
	// Count returns the number of stored items matching f.
	Count(ctx context.Context, alias string, f Filter) (int, error)
	// DeleteStale removes every item of docID whose id is not in keep and returns how many were removed.
	DeleteStale(ctx context.Context, alias, docID string, keep map[string]struct{}) (int, error)
	Close() error
}

// ChunkDocument flattens a chunk into the stored lexical document.
func ChunkDocument(c *models.Chunk) map[string]interface{} {
	doc := map[string]interface{}{
		"doc_id":       c.DocID,
		"chunk_id":     c.ChunkID,
		"text":         c.Text,
		"is_table":     c.IsTable,
		"section_path": strings.Join(c.SectionPath, " / "),
		"tokens_est":   c.TokensEst,
	}
	if c.PageStart != nil {
		doc["page_start"] = *c.PageStart
	}
	if c.PageEnd != nil {
		doc["page_end"] = *c.PageEnd
	}
	if len(c.Metadata) > 0 {
		meta := make(map[string]interface{}, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		doc["metadata"] = meta
	}
	return doc
}

// ChunkItems converts chunks to upsert items keyed by Chunk.Key.
func ChunkItems(chunks []*models.Chunk) []Item {
	items := make([]Item, len(chunks))
	for i, c := range chunks {
		items[i] = Item{ID: c.Key(), Doc: ChunkDocument(c)}
	}
	return items
}

func validAlias(alias string) error {
	if alias == "" || strings.ContainsAny(alias, `/\`) || alias == "." || alias == ".." {
		return fmt.Errorf("invalid index alias %q", alias)
	}
	return nil
}
