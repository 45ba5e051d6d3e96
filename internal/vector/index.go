// Package vector provides the vector side of the dual index: collections of
// embedded chunks with delete-by-filter and staged insert semantics.
package vector

import (
	"context"
	"strconv"
)

const (
	// DefaultCollection is the collection chunks are written to when none is configured.
	DefaultCollection = "chunks_v1"
	// DefaultDimensions is the embedding width of DefaultCollection.
	DefaultDimensions = 768
	// MaxTextLen bounds the stored chunk text, in characters.
	MaxTextLen = 8192
)

// Row is one stored vector with its chunk identity.
type Row struct {
	ID      string
	DocID   string
	ChunkID string
	Text    string
	Vector  []float32
}

// Filter selects rows. The zero Filter matches every row.
type Filter struct {
	DocID string
}

// Expr renders the filter as a boolean expression, e.g. doc_id == "msa-1".
func (f Filter) Expr() string {
	if f.DocID == "" {
		return ""
	}
	return "doc_id == " + strconv.Quote(f.DocID)
}

// Matches reports whether r satisfies the filter.
func (f Filter) Matches(r Row) bool {
	return f.DocID == "" || r.DocID == f.DocID
}

// Collection stores rows in named collections. Inserted rows may only become
// visible to Query after Flush.
type Collection interface {
	// Delete removes rows matching f and returns how many were removed.
	Delete(ctx context.Context, collection string, f Filter) (int, error)
	// Insert stores rows and returns how many were accepted.
	Insert(ctx context.Context, collection string, rows []Row) (int, error)
	// Flush makes every accepted insert visible.
	Flush(ctx context.Context, collection string) error
	// Query returns the visible rows matching f ordered by id.
	Query(ctx context.Context, collection string, f Filter) ([]Row, error)
	Close() error
}

// truncateText bounds s to MaxTextLen characters.
func truncateText(s string) string {
	if len(s) <= MaxTextLen {
		return s
	}
	r := []rune(s)
	if len(r) <= MaxTextLen {
		return s
	}
	return string(r[:MaxTextLen])
}
