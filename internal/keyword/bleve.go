package keyword

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// scanPageSize is the page size used when listing ids of one document.
const scanPageSize = 500

// BleveIndex implements LexicalIndex with one Bleve index per alias under a base
// directory. An empty base directory keeps every index in memory.
type BleveIndex struct {
	baseDir string
	logger  *zap.Logger

	mu      sync.Mutex
	indexes map[string]bleve.Index
}

// NewBleveIndex returns a BleveIndex rooted at baseDir. Indexes are opened or created
// on first use. If you change the mapping, remove the index directory to rebuild it.
func NewBleveIndex(baseDir string, logger *zap.Logger) (*BleveIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create keyword index dir: %w", err)
		}
	}
	return &BleveIndex{
		baseDir: baseDir,
		logger:  logger,
		indexes: make(map[string]bleve.Index),
	}, nil
}

func chunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize, no stemming.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("section_path", textFieldMapping)

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("doc_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("chunk_id", keywordFieldMapping)

	metaMapping := bleve.NewDocumentMapping()
	for _, f := range []string{"tenant", "dataset", "confidentiality", "doc_type", "language", "sha256"} {
		metaMapping.AddFieldMappingsAt(f, keywordFieldMapping)
	}
	docMapping.AddSubDocumentMapping("metadata", metaMapping)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// open returns the index for alias, opening or creating it.
func (b *BleveIndex) open(alias string) (bleve.Index, error) {
	if err := validAlias(alias); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[alias]; ok {
		return idx, nil
	}

	var idx bleve.Index
	var err error
	if b.baseDir == "" {
		idx, err = bleve.NewMemOnly(chunkMapping())
	} else {
		path := filepath.Join(b.baseDir, alias)
		if _, statErr := os.Stat(path); statErr == nil {
			idx, err = bleve.Open(path)
		} else {
			idx, err = bleve.New(path, chunkMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open Bleve index %q: %w", alias, err)
	}
	b.indexes[alias] = idx
	b.logger.Info("keyword index ready", zap.String("alias", alias), zap.String("dir", b.baseDir))
	return idx, nil
}

// BulkUpsert indexes items in one batch. Bleve replaces documents with the same id.
// Items rejected while building the batch are reported individually; if the batch
// itself fails, every batched item is reported as failed.
func (b *BleveIndex) BulkUpsert(ctx context.Context, alias string, items []Item) (BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return BulkResult{}, err
	}
	if len(items) == 0 {
		return BulkResult{}, nil
	}
	idx, err := b.open(alias)
	if err != nil {
		return BulkResult{}, err
	}

	var res BulkResult
	batch := idx.NewBatch()
	batched := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			res.Errors = append(res.Errors, ItemError{ID: it.ID, Reason: "empty id"})
			continue
		}
		if err := batch.Index(it.ID, it.Doc); err != nil {
			res.Errors = append(res.Errors, ItemError{ID: it.ID, Reason: err.Error()})
			continue
		}
		batched = append(batched, it.ID)
	}
	if len(batched) == 0 {
		return res, nil
	}
	if err := idx.Batch(batch); err != nil {
		for _, id := range batched {
			res.Errors = append(res.Errors, ItemError{ID: id, Reason: err.Error()})
		}
		return res, nil
	}
	res.Indexed = len(batched)
	return res, nil
}

// Count returns the number of documents whose doc_id equals f.DocID; an empty filter
// counts the whole index.
func (b *BleveIndex) Count(ctx context.Context, alias string, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	idx, err := b.open(alias)
	if err != nil {
		return 0, err
	}
	if f.DocID == "" {
		n, err := idx.DocCount()
		if err != nil {
			return 0, fmt.Errorf("Bleve doc count failed: %w", err)
		}
		return int(n), nil
	}
	req := bleve.NewSearchRequestOptions(docIDQuery(f.DocID), 0, 0, false)
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("Bleve count failed: %w", err)
	}
	return int(res.Total), nil
}

// DeleteStale removes stored chunks of docID whose ids are not in keep.
func (b *BleveIndex) DeleteStale(ctx context.Context, alias, docID string, keep map[string]struct{}) (int, error) {
	if docID == "" {
		return 0, errors.New("doc id is required")
	}
	idx, err := b.open(alias)
	if err != nil {
		return 0, err
	}
	ids, err := b.idsFor(ctx, idx, docID)
	if err != nil {
		return 0, err
	}
	batch := idx.NewBatch()
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
		}
	}
	n := batch.Size()
	if n == 0 {
		return 0, nil
	}
	if err := idx.Batch(batch); err != nil {
		return 0, fmt.Errorf("Bleve delete failed: %w", err)
	}
	b.logger.Debug("stale chunks deleted", zap.String("alias", alias), zap.String("doc_id", docID), zap.Int("deleted", n))
	return n, nil
}

func (b *BleveIndex) idsFor(ctx context.Context, idx bleve.Index, docID string) ([]string, error) {
	var ids []string
	for from := 0; ; from += scanPageSize {
		req := bleve.NewSearchRequestOptions(docIDQuery(docID), scanPageSize, from, false)
		req.SortBy([]string{"_id"})
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("Bleve id scan failed: %w", err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < scanPageSize {
			return ids, nil
		}
	}
}

func docIDQuery(docID string) *blevequery.TermQuery {
	q := bleve.NewTermQuery(docID)
	q.SetField("doc_id")
	return q
}

// Close closes every open index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for alias, idx := range b.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", alias, err))
		}
		delete(b.indexes, alias)
	}
	return errors.Join(errs...)
}

var _ LexicalIndex = (*BleveIndex)(nil)
