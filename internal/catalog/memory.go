package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/ingestd/internal/models"
)

// MemoryCatalog is an in-process Catalog.
type MemoryCatalog struct {
	mu   sync.RWMutex
	recs map[string]models.DocumentRecord
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{recs: make(map[string]models.DocumentRecord)}
}

func (m *MemoryCatalog) Upsert(_ context.Context, rec *models.DocumentRecord) error {
	if rec.DocID == "" {
		return errors.New("catalog: empty doc_id")
	}
	rec.UpdatedAt = time.Now().UTC()
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = rec.UpdatedAt
	}
	cp := *rec
	cp.Tags = rec.Tags.Clone()
	m.mu.Lock()
	m.recs[rec.DocID] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryCatalog) Get(_ context.Context, docID string) (*models.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	rec.Tags = rec.Tags.Clone()
	return &rec, nil
}

func (m *MemoryCatalog) List(_ context.Context, offset, limit int) ([]*models.DocumentRecord, error) {
	m.mu.RLock()
	all := make([]*models.DocumentRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		rec := rec
		rec.Tags = rec.Tags.Clone()
		all = append(all, &rec)
	}
	m.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].DocID < all[j].DocID
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryCatalog) Delete(_ context.Context, docID string) error {
	m.mu.Lock()
	delete(m.recs, docID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCatalog) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.recs)), nil
}

func (m *MemoryCatalog) Close() error { return nil }
