package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/ingestd/internal/blob"
	"github.com/hyperjump/ingestd/internal/models"
	"go.uber.org/zap"
)

// SidecarSuffix is appended to a blob path to locate its sidecar metadata file.
const SidecarSuffix = ".meta.json"

// DefaultTags are the system defaults, the lowest-precedence tag source.
func DefaultTags() models.Tags {
	return models.Tags{TagLanguage: "en"}
}

// Downloader is the subset of a blob source the resolver needs.
type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Resolver produces the final tag set for one ingestion.
type Resolver struct {
	blobs    Downloader
	defaults models.Tags
	now      func() time.Time
	logger   *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithDefaults replaces the system default tags.
func WithDefaults(defaults models.Tags) ResolverOption {
	return func(r *Resolver) { r.defaults = defaults.Clone() }
}

// WithClock sets the clock used for ingested_at.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the resolver's logger.
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver. blobs may be nil, in which case sidecars are never loaded.
func NewResolver(blobs Downloader, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		blobs:    blobs,
		defaults: DefaultTags(),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve merges, validates and enriches the tags for req given the downloaded content.
func (r *Resolver) Resolve(ctx context.Context, req models.IngestRequest, content []byte) (models.Tags, error) {
	sidecar := r.LoadSidecar(ctx, req.BlobPath)
	merged := Merge(req.Tags, sidecar, InferFromPath(req.BlobPath), r.defaults)
	validated, err := Validate(merged, req.BlobPath)
	if err != nil {
		return nil, err
	}
	final := Enrich(validated, req.BlobPath, content, req.DocID, r.now())
	r.logger.Debug("metadata resolved",
		zap.String("blob_path", req.BlobPath),
		zap.String("doc_id", final[TagDocID]),
		zap.Int("sidecar_tags", len(sidecar)),
	)
	return final, nil
}

// LoadSidecar reads "{blobPath}.meta.json" as a flat JSON object. A missing, unreadable
// or malformed sidecar contributes no tags; only the missing case is silent.
func (r *Resolver) LoadSidecar(ctx context.Context, blobPath string) models.Tags {
	if r.blobs == nil {
		return nil
	}
	sidecarPath := blobPath + SidecarSuffix
	data, err := r.blobs.Download(ctx, sidecarPath)
	if err != nil {
		if !errors.Is(err, blob.ErrBlobNotFound) {
			r.logger.Warn("sidecar load failed", zap.String("sidecar_path", sidecarPath), zap.Error(err))
		}
		return nil
	}
	tags, err := ParseSidecar(data)
	if err != nil {
		r.logger.Warn("sidecar ignored", zap.String("sidecar_path", sidecarPath), zap.Error(err))
		return nil
	}
	return tags
}

// ParseSidecar decodes a sidecar document. Non-string scalar values are stringified;
// nested objects and arrays are rejected.
func ParseSidecar(data []byte) (models.Tags, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	tags := make(models.Tags, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			tags[k] = val
		case bool, float64:
			tags[k] = fmt.Sprint(val)
		default:
			return nil, fmt.Errorf("parse sidecar: tag %q is not a scalar", k)
		}
	}
	return tags, nil
}
