package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/ingestd/internal/blob"
	"github.com/hyperjump/ingestd/internal/catalog"
	"github.com/hyperjump/ingestd/internal/config"
	"github.com/hyperjump/ingestd/internal/embedding"
	"github.com/hyperjump/ingestd/internal/extract"
	"github.com/hyperjump/ingestd/internal/indexer"
	"github.com/hyperjump/ingestd/internal/jobstatus"
	"github.com/hyperjump/ingestd/internal/keyword"
	"github.com/hyperjump/ingestd/internal/metadata"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/normalize"
	"github.com/hyperjump/ingestd/internal/pipeline"
	"github.com/hyperjump/ingestd/internal/queue"
	"github.com/hyperjump/ingestd/internal/telemetry"
	"github.com/hyperjump/ingestd/internal/vector"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Components holds initialized services. Fields a role does not need stay nil.
type Components struct {
	cfg          *config.Config
	logger       *zap.Logger
	Metrics      *telemetry.Metrics
	Redis        *redis.Client
	Jobs         jobstatus.Store
	Queue        queue.Queue
	Submitter    *pipeline.Submitter
	Catalog      catalog.Catalog
	Blobs        blob.Source
	Keyword      *keyword.BleveIndex
	Vectors      vector.Collection
	Embedder     embedding.Embedder
	Sync         *indexer.Synchronizer
	Orchestrator *pipeline.Orchestrator
}

// initSubmitSide builds what accepting and polling jobs needs: the job store,
// the queue, the submitter and the catalog.
func initSubmitSide(ctx context.Context, c *Components) error {
	cfg := c.cfg
	if cfg.JobStore.Type == "redis" || cfg.Queue.Type == "redis" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		c.Redis = redis.NewClient(opts)
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			c.logger.Warn("redis not reachable yet", zap.String("url", redactURL(cfg.Redis.URL)), zap.Error(err))
		}
	}

	storeOpts := []jobstatus.Option{jobstatus.WithTTL(cfg.JobStore.TTL()), jobstatus.WithLogger(c.logger)}
	if cfg.JobStore.Type == "redis" {
		c.Jobs = jobstatus.NewRedisStore(c.Redis, storeOpts...)
	} else {
		c.Jobs = jobstatus.NewMemoryStore(storeOpts...)
	}

	if cfg.Queue.Type == "redis" {
		c.Queue = queue.NewRedisQueue(c.Redis, cfg.Queue.Key, c.logger,
			queue.WithConsumer(cfg.Queue.Consumer),
			queue.WithLease(cfg.Queue.Lease))
	} else {
		c.Queue = queue.NewMemoryQueue(cfg.Queue.Capacity)
	}
	c.Submitter = pipeline.NewSubmitter(c.Jobs, c.Queue, c.logger, c.Metrics)

	switch cfg.Catalog.Type {
	case "memory":
		c.Catalog = catalog.NewMemoryCatalog()
	default:
		cat, err := catalog.NewSQLiteCatalog(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize catalog: %w", err)
		}
		c.Catalog = cat
	}
	return nil
}

// initIndexes opens the blob source, both indexes and the synchronizer.
func initIndexes(ctx context.Context, c *Components) error {
	cfg := c.cfg
	blobs, err := blob.New(ctx, blob.Config{
		Type:         cfg.Blob.Type,
		Root:         cfg.Blob.Root,
		Bucket:       cfg.Blob.Bucket,
		Region:       cfg.Blob.Region,
		Endpoint:     cfg.Blob.Endpoint,
		AccessKey:    cfg.Blob.AccessKey,
		SecretKey:    cfg.Blob.SecretKey,
		UsePathStyle: cfg.Blob.UsePathStyle,
		CreateBucket: cfg.Blob.CreateBucket,

		Account:          cfg.Blob.Account,
		ConnectionString: cfg.Blob.ConnectionString,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob source: %w", err)
	}
	c.Blobs = blobs

	c.Keyword, err = keyword.NewBleveIndex(cfg.Keyword.Path, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	c.Vectors, err = vector.New(ctx, vector.Config{
		Type:        cfg.Vector.Type,
		Dimensions:  cfg.Embedding.Dimensions,
		DSN:         cfg.Vector.DSN,
		SnapshotDir: cfg.Vector.SnapshotDir,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize vector collection: %w", err)
	}
	c.logger.Info("indexes initialized",
		zap.String("keyword_path", cfg.Keyword.Path),
		zap.String("keyword_alias", cfg.Keyword.Alias),
		zap.String("vector_type", cfg.Vector.Type),
		zap.String("vector_collection", cfg.Vector.Collection))

	c.Sync = indexer.NewSynchronizer(c.Keyword, c.Vectors,
		indexer.WithLogger(c.logger),
		indexer.WithMetrics(c.Metrics),
		indexer.WithAlias(cfg.Keyword.Alias),
		indexer.WithCollection(cfg.Vector.Collection),
	)
	return nil
}

// initPipeline builds the orchestrator over the submit side and indexes.
func initPipeline(c *Components) error {
	cfg := c.cfg
	c.Embedder = embedding.NewCached(embedding.NewHashEmbedder(cfg.Embedding.Dimensions), cfg.Embedding.CacheSize)

	chunker := indexer.NewChunker()
	chunker.MaxFallbackChars = cfg.Chunk.MaxFallbackChars
	chunker.TokensPerWord = cfg.Chunk.TokensPerWord
	chunker.MaxChunks = cfg.Chunk.MaxChunks

	resolver := metadata.NewResolver(c.Blobs,
		metadata.WithDefaults(models.Tags(cfg.Pipeline.DefaultTags)),
		metadata.WithLogger(c.logger),
	)

	orch, err := pipeline.NewOrchestrator(pipeline.Deps{
		Jobs:      c.Jobs,
		Blobs:     c.Blobs,
		Resolver:  resolver,
		Extractor: extract.NewExtractor(extract.WithLogger(c.logger)),
		Chunker:   chunker,
		Embedder:  c.Embedder,
		Index:     c.Sync,
		Catalog:   c.Catalog,
	},
		pipeline.WithLogger(c.logger),
		pipeline.WithMetrics(c.Metrics),
		pipeline.WithTracer(telemetry.Tracer()),
		pipeline.WithStageTimeout(cfg.Pipeline.StageTimeout),
		pipeline.WithMaxRetries(cfg.Pipeline.MaxRetriesOrDefault()),
		pipeline.WithLayoutChain(normalize.LayoutChain(normalizeOptions(cfg.Normalize))),
		pipeline.WithParityCheck(cfg.Pipeline.VerifyParity),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	c.Orchestrator = orch
	return nil
}

func normalizeOptions(n config.NormalizeConfig) normalize.Options {
	return normalize.Options{
		Threshold:   n.Threshold,
		MinLineLen:  n.MinLineLen,
		MinCountLen: n.MinCountLen,
		MinTextLen:  n.MinTextLen,
		MinLines:    n.MinLines,
	}
}

func retryPolicy(p config.PipelineConfig) pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		MaxRetries: p.MaxRetriesOrDefault(),
		BaseDelay:  p.RetryBaseDelay,
		MaxDelay:   p.RetryMaxDelay,
	}
}

// dataPaths are the local directories summed for disk usage.
func dataPaths(cfg *config.Config) []string {
	paths := []string{cfg.Keyword.Path}
	if cfg.Blob.Type == "disk" {
		paths = append(paths, cfg.Blob.Root)
	}
	if cfg.Vector.Type == "memory" {
		paths = append(paths, cfg.Vector.SnapshotDir)
	}
	if cfg.Catalog.Type == "sqlite" {
		paths = append(paths, cfg.Catalog.Path)
	}
	return paths
}

// Close snapshots the in-memory vector collection and releases everything.
func (c *Components) Close() {
	if m, ok := c.Vectors.(*vector.MemoryCollection); ok && c.cfg.Vector.SnapshotDir != "" {
		if err := m.Save(c.cfg.Vector.SnapshotDir); err != nil {
			c.logger.Warn("vector snapshot failed", zap.String("dir", c.cfg.Vector.SnapshotDir), zap.Error(err))
		}
	}
	if c.Vectors != nil {
		_ = c.Vectors.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
	if ce, ok := c.Embedder.(*embedding.Cached); ok {
		st := ce.Stats()
		c.logger.Debug("embedding cache",
			zap.Int("entries", st.Entries),
			zap.Uint64("hits", st.Hits),
			zap.Uint64("misses", st.Misses))
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Queue != nil {
		_ = c.Queue.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
