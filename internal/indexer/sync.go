package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperjump/ingestd/internal/keyword"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/telemetry"
	"github.com/hyperjump/ingestd/internal/vector"
	"go.uber.org/zap"
)

var (
	// ErrIndexWriteFailed is wrapped by every IndexWriteError.
	ErrIndexWriteFailed = errors.New("index write failed")
	// ErrParityMismatch reports that the backends disagree on a document's chunk count.
	ErrParityMismatch = errors.New("parity mismatch")
)

// Backend names used in errors, logs and metrics.
const (
	BackendLexical = "lexical"
	BackendVector  = "vector"
)

// IndexWriteError is a failed or partial write to one backend.
type IndexWriteError struct {
	Backend   string
	Succeeded int
	Failed    int
	Items     []keyword.ItemError
	Err       error
}

func (e *IndexWriteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s index write failed", e.Backend)
	if e.Succeeded > 0 || e.Failed > 0 {
		fmt.Fprintf(&b, " (%d succeeded, %d failed)", e.Succeeded, e.Failed)
	}
	if len(e.Items) > 0 {
		fmt.Fprintf(&b, ": first error %s", e.Items[0])
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *IndexWriteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIndexWriteFailed}
	}
	return []error{ErrIndexWriteFailed, e.Err}
}

// SyncReport summarizes one document sync.
type SyncReport struct {
	DocID         string `json:"doc_id"`
	Lexical       int    `json:"lexical"`
	StaleDeleted  int    `json:"stale_deleted"`
	Vector        int    `json:"vector"`
	VectorDeleted int    `json:"vector_deleted"`
}

// Synchronizer writes a document's chunks to the lexical and vector backends so
// that re-ingesting a document replaces exactly its previous chunks.
//
// Lexical writes upsert by "{doc_id}:{chunk_id}" and then delete the document's
// ids that were not rewritten. Vector writes delete every row of the document,
// insert the new rows and flush. Nothing is rolled back when one side fails.
//
// Two concurrent syncs of the same doc_id are not coordinated: the lexical side
// ends last-writer-wins while the vector side may briefly hold rows from both
// runs or from neither. Callers must not ingest one doc_id concurrently.
type Synchronizer struct {
	lexical    keyword.LexicalIndex
	vectors    vector.Collection
	alias      string
	collection string
	logger     *zap.Logger
	metrics    *telemetry.Metrics
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithLogger sets a logger for write and parity events.
func WithLogger(l *zap.Logger) SyncOption {
	return func(s *Synchronizer) { s.logger = l }
}

// WithMetrics records per-backend item counts and parity results.
func WithMetrics(m *telemetry.Metrics) SyncOption {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithAlias sets the lexical index alias.
func WithAlias(alias string) SyncOption {
	return func(s *Synchronizer) { s.alias = alias }
}

// WithCollection sets the vector collection.
func WithCollection(name string) SyncOption {
	return func(s *Synchronizer) { s.collection = name }
}

// NewSynchronizer creates a synchronizer over the two backends.
func NewSynchronizer(lexical keyword.LexicalIndex, vectors vector.Collection, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		lexical:    lexical,
		vectors:    vectors,
		alias:      keyword.DefaultAlias,
		collection: vector.DefaultCollection,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync writes chunks of docID to both backends concurrently and waits for both.
// When both fail the errors are joined.
func (s *Synchronizer) Sync(ctx context.Context, docID string, chunks []*models.Chunk) (SyncReport, error) {
	report := SyncReport{DocID: docID}
	var lexErr, vecErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Lexical, report.StaleDeleted, lexErr = s.writeLexical(ctx, docID, chunks)
	}()
	go func() {
		defer wg.Done()
		report.Vector, report.VectorDeleted, vecErr = s.writeVector(ctx, docID, chunks)
	}()
	wg.Wait()

	if err := errors.Join(lexErr, vecErr); err != nil {
		s.logger.Warn("index sync failed", zap.String("doc_id", docID), zap.Error(err))
		return report, err
	}
	s.logger.Info("index sync complete",
		zap.String("doc_id", docID),
		zap.Int("lexical", report.Lexical),
		zap.Int("stale_deleted", report.StaleDeleted),
		zap.Int("vector", report.Vector),
		zap.Int("vector_deleted", report.VectorDeleted),
	)
	return report, nil
}

// writeLexical upserts chunks and, only when every item succeeded, removes stale ids.
func (s *Synchronizer) writeLexical(ctx context.Context, docID string, chunks []*models.Chunk) (indexed, stale int, err error) {
	items := keyword.ChunkItems(chunks)
	res, err := s.lexical.BulkUpsert(ctx, s.alias, items)
	if err != nil {
		s.metrics.IndexWrite(BackendLexical, 0, len(items))
		return 0, 0, &IndexWriteError{Backend: BackendLexical, Failed: len(items), Err: err}
	}
	s.metrics.IndexWrite(BackendLexical, res.Indexed, len(res.Errors))
	if len(res.Errors) > 0 {
		// Stale ids are kept: a retry rewrites every chunk and cleans up then.
		return res.Indexed, 0, &IndexWriteError{
			Backend:   BackendLexical,
			Succeeded: res.Indexed,
			Failed:    len(res.Errors),
			Items:     res.Errors,
		}
	}

	keep := make(map[string]struct{}, len(items))
	for _, it := range items {
		keep[it.ID] = struct{}{}
	}
	stale, err = s.lexical.DeleteStale(ctx, s.alias, docID, keep)
	if err != nil {
		return res.Indexed, 0, &IndexWriteError{
			Backend:   BackendLexical,
			Succeeded: res.Indexed,
			Err:       fmt.Errorf("delete stale chunks: %w", err),
		}
	}
	return res.Indexed, stale, nil
}

// writeVector replaces every row of docID: delete, insert, flush.
func (s *Synchronizer) writeVector(ctx context.Context, docID string, chunks []*models.Chunk) (inserted, deleted int, err error) {
	filter := vector.Filter{DocID: docID}
	deleted, err = s.vectors.Delete(ctx, s.collection, filter)
	if err != nil {
		return 0, 0, &IndexWriteError{Backend: BackendVector, Failed: len(chunks), Err: fmt.Errorf("delete %s: %w", filter.Expr(), err)}
	}
	s.logger.Debug("vector rows deleted", zap.String("doc_id", docID), zap.Int("deleted", deleted))
	if len(chunks) == 0 {
		return 0, deleted, nil
	}

	rows := make([]vector.Row, len(chunks))
	for i, c := range chunks {
		rows[i] = vector.Row{ID: c.Key(), DocID: c.DocID, ChunkID: c.ChunkID, Text: c.Text, Vector: c.Embedding}
	}
	inserted, err = s.vectors.Insert(ctx, s.collection, rows)
	if err != nil {
		s.metrics.IndexWrite(BackendVector, 0, len(rows))
		return 0, deleted, &IndexWriteError{Backend: BackendVector, Failed: len(rows), Err: fmt.Errorf("insert: %w", err)}
	}
	if err := s.vectors.Flush(ctx, s.collection); err != nil {
		s.metrics.IndexWrite(BackendVector, 0, len(rows))
		return 0, deleted, &IndexWriteError{Backend: BackendVector, Failed: len(rows), Err: fmt.Errorf("flush: %w", err)}
	}
	s.metrics.IndexWrite(BackendVector, inserted, len(rows)-inserted)
	return inserted, deleted, nil
}

// Parity compares the chunk counts each backend holds for docID. Backend failures
// are logged and reported as a mismatch; the returned error is always nil.
func (s *Synchronizer) Parity(ctx context.Context, docID string) (models.ParityReport, error) {
	report := models.ParityReport{DocID: docID}

	lexical, err := s.lexical.Count(ctx, s.alias, keyword.Filter{DocID: docID})
	if err != nil {
		return s.parityFailed(report, BackendLexical, err), nil
	}
	report.Lexical = lexical

	rows, err := s.vectors.Query(ctx, s.collection, vector.Filter{DocID: docID})
	if err != nil {
		return s.parityFailed(report, BackendVector, err), nil
	}
	report.Vector = len(rows)
	report.Match = report.Lexical == report.Vector

	s.metrics.Parity(report.Match)
	s.logger.Info("parity check",
		zap.String("doc_id", docID),
		zap.Int("lexical_count", report.Lexical),
		zap.Int("vector_count", report.Vector),
		zap.Bool("parity", report.Match),
	)
	return report, nil
}

func (s *Synchronizer) parityFailed(report models.ParityReport, backend string, err error) models.ParityReport {
	report.Match = false
	report.Error = fmt.Sprintf("%s count: %v", backend, err)
	s.metrics.Parity(false)
	s.logger.Error("parity check failed", zap.String("doc_id", report.DocID), zap.String("backend", backend), zap.Error(err))
	return report
}

// ParityError returns an error wrapping ErrParityMismatch when r does not match.
func ParityError(r models.ParityReport) error {
	if r.Match {
		return nil
	}
	if r.Error != "" {
		return fmt.Errorf("%w for %s: %s", ErrParityMismatch, r.DocID, r.Error)
	}
	return fmt.Errorf("%w for %s: lexical=%d vector=%d", ErrParityMismatch, r.DocID, r.Lexical, r.Vector)
}
