// Package pipeline runs ingestion jobs: it drives a task through the
// download, metadata, extract, normalize, chunk, embed, index and catalog
// stages, records job status, and schedules attempts on a worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/ingestd/internal/catalog"
	"github.com/hyperjump/ingestd/internal/embedding"
	"github.com/hyperjump/ingestd/internal/fileid"
	"github.com/hyperjump/ingestd/internal/indexer"
	"github.com/hyperjump/ingestd/internal/jobstatus"
	"github.com/hyperjump/ingestd/internal/metadata"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/normalize"
	"github.com/hyperjump/ingestd/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultStageTimeout bounds each I/O stage.
const DefaultStageTimeout = 2 * time.Minute

// Count keys written on a done job.
const (
	CountChunks          = "chunks"
	CountLexical         = "lexical"
	CountVector          = "vector"
	CountNormalizedChars = "normalized_chars"
)

// Downloader fetches raw blob bytes.
type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// TagResolver produces the final metadata of a document.
type TagResolver interface {
	Resolve(ctx context.Context, req models.IngestRequest, content []byte) (models.Tags, error)
}

// TextExtractor turns raw bytes into text.
type TextExtractor interface {
	Extract(ctx context.Context, content []byte, contentType string) (string, error)
}

// ChunkBuilder splits normalized text into chunks.
type ChunkBuilder interface {
	Build(docID, text string, tags models.Tags) []*models.Chunk
}

// IndexSyncer writes chunks to both indexes and compares them.
type IndexSyncer interface {
	Sync(ctx context.Context, docID string, chunks []*models.Chunk) (indexer.SyncReport, error)
	Parity(ctx context.Context, docID string) (models.ParityReport, error)
}

// Deps are the collaborators of an Orchestrator. Catalog is optional.
type Deps struct {
	Jobs      jobstatus.Store
	Blobs     Downloader
	Resolver  TagResolver
	Extractor TextExtractor
	Chunker   ChunkBuilder
	Embedder  embedding.Embedder
	Index     IndexSyncer
	Catalog   catalog.Catalog
}

func (d Deps) validate() error {
	var missing []string
	if d.Jobs == nil {
		missing = append(missing, "jobs")
	}
	if d.Blobs == nil {
		missing = append(missing, "blobs")
	}
	if d.Resolver == nil {
		missing = append(missing, "resolver")
	}
	if d.Extractor == nil {
		missing = append(missing, "extractor")
	}
	if d.Chunker == nil {
		missing = append(missing, "chunker")
	}
	if d.Embedder == nil {
		missing = append(missing, "embedder")
	}
	if d.Index == nil {
		missing = append(missing, "index")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	}
	return nil
}

// Orchestrator runs one task at a time per call; calls may run concurrently
// for different jobs.
type Orchestrator struct {
	deps         Deps
	layout       normalize.Chain
	stageTimeout time.Duration
	maxRetries   int
	verifyParity bool
	logger       *zap.Logger
	metrics      *telemetry.Metrics
	tracer       trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records stage durations and job outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer replaces the global pipeline tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithStageTimeout bounds every I/O stage. Zero disables the bound.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithMaxRetries sets how many retries follow the first attempt. A job is
// only marked failed once no retry remains.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithLayoutChain replaces the whole-text normalization applied before
// paragraph splitting.
func WithLayoutChain(c normalize.Chain) Option {
	return func(o *Orchestrator) { o.layout = c }
}

// WithParityCheck runs a parity check after a successful sync. A mismatch is
// logged and never fails the job.
func WithParityCheck(enabled bool) Option {
	return func(o *Orchestrator) { o.verifyParity = enabled }
}

// NewOrchestrator validates deps and applies options.
func NewOrchestrator(deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		deps:         deps,
		layout:       normalize.LayoutChain(normalize.DefaultOptions()),
		stageTimeout: DefaultStageTimeout,
		maxRetries:   DefaultMaxRetries,
		logger:       zap.NewNop(),
		tracer:       telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// MaxRetries returns the configured retry budget.
func (o *Orchestrator) MaxRetries() int { return o.maxRetries }

// Run executes one attempt of task. The job moves to processing, then to
// done on success. On failure it moves to failed when the error is not
// retryable or task.Attempt has used up the retry budget; otherwise it stays
// processing for the next attempt. The returned error is a *StageError, or
// ErrJobFinished when the job was already terminal.
func (o *Orchestrator) Run(ctx context.Context, task models.Task) error {
	req := task.Request
	log := o.logger.With(zap.String("job_id", task.JobID), zap.Int("attempt", task.Attempt))

	if _, err := o.deps.Jobs.Set(ctx, task.JobID, models.JobProcessing, jobstatus.Fields{DocID: models.StringPtr(req.DocID)}); err != nil {
		if errors.Is(err, jobstatus.ErrInvalidTransition) {
			log.Info("skipping finished job", zap.Error(err))
			return ErrJobFinished
		}
		return fmt.Errorf("mark processing: %w", err)
	}
	o.metrics.JobStatus(string(models.JobProcessing))

	counts, docID, err := o.run(ctx, task.JobID, req)
	if err != nil {
		final := !Retryable(err) || task.Attempt >= o.maxRetries
		if final {
			msg := err.Error()
			if _, serr := o.deps.Jobs.Set(ctx, task.JobID, models.JobFailed, jobstatus.Fields{
				DocID: models.StringPtr(docID),
				Error: &msg,
			}); serr != nil {
				log.Error("mark failed", zap.Error(serr))
			}
			o.metrics.JobStatus(string(models.JobFailed))
		}
		log.Error("ingest failed",
			zap.String("doc_id", docID),
			zap.String("kind", string(KindOf(err))),
			zap.Bool("final", final),
			zap.Error(err))
		return err
	}

	if _, err := o.deps.Jobs.Set(ctx, task.JobID, models.JobDone, jobstatus.Fields{
		DocID:  models.StringPtr(docID),
		Counts: counts,
	}); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	o.metrics.JobStatus(string(models.JobDone))
	log.Info("ingest done", zap.String("doc_id", docID), zap.Any("counts", counts))
	return nil
}

// run executes the stages and returns the done counts and the resolved doc_id.
func (o *Orchestrator) run(ctx context.Context, jobID string, req models.IngestRequest) (map[string]int, string, error) {
	docID := req.DocID
	base := []zap.Field{zap.String("job_id", jobID)}

	var content []byte
	err := o.ioStage(ctx, StageDownload, append(base, zap.String("blob_path", req.BlobPath)), func(ctx context.Context) error {
		var err error
		content, err = o.deps.Blobs.Download(ctx, req.BlobPath)
		if err == nil {
			o.logger.Debug("blob downloaded", zap.String("job_id", jobID), zap.Int("size", len(content)))
		}
		return err
	})
	if err != nil {
		return nil, docID, err
	}

	var tags models.Tags
	err = o.ioStage(ctx, StageMetadata, base, func(ctx context.Context) error {
		var err error
		tags, err = o.deps.Resolver.Resolve(ctx, req, content)
		return err
	})
	if err != nil {
		return nil, docID, err
	}
	docID = tags[metadata.TagDocID]
	base = append(base, zap.String("doc_id", docID))

	var text string
	err = o.ioStage(ctx, StageExtract, base, func(ctx context.Context) error {
		var err error
		text, err = o.deps.Extractor.Extract(ctx, content, fileid.Ext(req.BlobPath))
		return err
	})
	if err != nil {
		return nil, docID, err
	}

	var layout string
	err = o.stage(ctx, StageNormalize, base, func(context.Context) error {
		layout = o.layout.Apply(text)
		o.logger.Debug("text normalized",
			zap.String("doc_id", docID),
			zap.Int("original_length", len(text)),
			zap.Int("normalized_length", len(layout)))
		return nil
	})
	if err != nil {
		return nil, docID, err
	}

	var chunks []*models.Chunk
	err = o.stage(ctx, StageChunk, base, func(context.Context) error {
		chunks = o.deps.Chunker.Build(docID, layout, tags)
		return nil
	})
	if err != nil {
		return nil, docID, err
	}

	err = o.ioStage(ctx, StageEmbed, base, func(ctx context.Context) error {
		return o.embed(ctx, chunks)
	})
	if err != nil {
		return nil, docID, err
	}

	var report indexer.SyncReport
	err = o.ioStage(ctx, StageIndex, base, func(ctx context.Context) error {
		var err error
		report, err = o.deps.Index.Sync(ctx, docID, chunks)
		return err
	})
	if err != nil {
		return nil, docID, err
	}

	if o.deps.Catalog != nil {
		err = o.ioStage(ctx, StageCatalog, base, func(ctx context.Context) error {
			return o.deps.Catalog.Upsert(ctx, catalog.FromTags(tags, len(chunks)))
		})
		if err != nil {
			return nil, docID, err
		}
	}

	if o.verifyParity {
		o.checkParity(ctx, base, docID)
	}

	return map[string]int{
		CountChunks:          len(chunks),
		CountLexical:         report.Lexical,
		CountVector:          report.Vector,
		CountNormalizedChars: normalizedChars(chunks),
	}, docID, nil
}

func (o *Orchestrator) embed(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := o.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	for i, c := range chunks {
		c.Embedding = vecs[i]
	}
	return nil
}

// checkParity logs a warning on mismatch. Its stage error is swallowed.
func (o *Orchestrator) checkParity(ctx context.Context, fields []zap.Field, docID string) {
	_ = o.ioStage(ctx, StageParity, fields, func(ctx context.Context) error {
		report, _ := o.deps.Index.Parity(ctx, docID)
		if err := indexer.ParityError(report); err != nil {
			o.logger.Warn("parity mismatch after sync",
				zap.String("doc_id", docID),
				zap.Int("lexical_count", report.Lexical),
				zap.Int("vector_count", report.Vector),
				zap.String("error", report.Error))
		}
		return nil
	})
}

// normalizedChars is the rune length of the chunk texts joined by blank lines.
func normalizedChars(chunks []*models.Chunk) int {
	if len(chunks) == 0 {
		return 0
	}
	n := 2 * (len(chunks) - 1)
	for _, c := range chunks {
		n += utf8.RuneCountInString(c.Text)
	}
	return n
}
