package vector

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// CollectionType selects a Collection implementation.
type CollectionType string

const (
	// TypeMemory keeps rows in process, optionally snapshotted to disk.
	TypeMemory CollectionType = "memory"
	// TypePgVector stores rows in Postgres with the pgvector extension.
	TypePgVector CollectionType = "pgvector"
)

// Config selects and configures a Collection.
type Config struct {
	Type        string
	Dimensions  int
	DSN         string
	SnapshotDir string
}

// New creates a collection of the configured type. "memory" is the default; a
// memory collection restores any snapshot found in SnapshotDir.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Collection, error) {
	dims := cfg.Dimensions
	if dims == 0 {
		dims = DefaultDimensions
	}
	switch CollectionType(cfg.Type) {
	case TypeMemory, "":
		m, err := NewMemoryCollection(dims)
		if err != nil {
			return nil, err
		}
		if err := m.Load(cfg.SnapshotDir); err != nil {
			return nil, err
		}
		return m, nil
	case TypePgVector:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("pgvector collection requires a dsn")
		}
		return NewPgCollection(ctx, cfg.DSN, dims, logger)
	default:
		return nil, fmt.Errorf("unknown vector type: %s (supported: memory, pgvector)", cfg.Type)
	}
}
