// Package blob provides access to raw document bytes in local, S3-compatible or
// Azure Blob storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrBlobNotFound is returned when the requested blob does not exist.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrAccessDenied is returned when the backend refuses access to a blob.
	ErrAccessDenied = errors.New("access denied")
)

// Info describes a stored blob.
type Info struct {
	Path         string            `json:"path"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Source reads and writes blobs. Paths are slash-separated and relative to the
// source root; a leading slash is ignored.
type Source interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, content []byte, metadata map[string]string) error
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string, maxResults int) ([]string, error)
	Delete(ctx context.Context, path string) error
	Stat(ctx context.Context, path string) (*Info, error)
}

// Config selects and configures a blob source.
type Config struct {
	Type string // "disk", "s3", "minio" or "azure"

	Root string // disk

	Bucket       string // s3 bucket or azure container
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string // s3 secret or azure account key
	UsePathStyle bool
	CreateBucket bool

	Account          string // azure
	ConnectionString string
}

// New returns the Source described by cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Type) {
	case "", "disk":
		return NewDiskSource(cfg.Root)
	case "s3", "minio":
		return NewS3Source(ctx, cfg, logger)
	case "azure":
		return NewAzureSource(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown blob source type %q", cfg.Type)
	}
}

func objectKey(path string) string {
	return strings.TrimLeft(path, "/")
}
