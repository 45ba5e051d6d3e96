package vector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PgCollection stores each collection in a Postgres table with a pgvector column.
// Writes are visible on commit, so Flush is a no-op.
type PgCollection struct {
	pool       *pgxpool.Pool
	dimensions int
	logger     *zap.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewPgCollection connects to dsn and enables the vector extension.
func NewPgCollection(ctx context.Context, dsn string, dimensions int, logger *zap.Logger) (*PgCollection, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("enable vector extension: %w", err)
	}
	return &PgCollection{
		pool:       pool,
		dimensions: dimensions,
		logger:     logger,
		ensured:    make(map[string]bool),
	}, nil
}

func (p *PgCollection) table(ctx context.Context, collection string) (string, error) {
	if !collectionName.MatchString(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	ident := pgx.Identifier{collection}.Sanitize()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured[collection] {
		return ident, nil
	}
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id        TEXT PRIMARY KEY,
		doc_id    TEXT NOT NULL,
		chunk_id  TEXT NOT NULL,
		text      TEXT NOT NULL,
		embedding vector(%d) NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %s ON %s (doc_id);`,
		ident, p.dimensions, pgx.Identifier{collection + "_doc_id_idx"}.Sanitize(), ident)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return "", fmt.Errorf("create collection %s: %w", collection, err)
	}
	p.ensured[collection] = true
	p.logger.Info("vector collection ready", zap.String("collection", collection), zap.Int("dimensions", p.dimensions))
	return ident, nil
}

func (p *PgCollection) Delete(ctx context.Context, collection string, f Filter) (int, error) {
	tbl, err := p.table(ctx, collection)
	if err != nil {
		return 0, err
	}
	var tag pgconn.CommandTag
	if f.DocID == "" {
		tag, err = p.pool.Exec(ctx, "DELETE FROM "+tbl)
	} else {
		tag, err = p.pool.Exec(ctx, "DELETE FROM "+tbl+" WHERE doc_id = $1", f.DocID)
	}
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", f.Expr(), err)
	}
	return int(tag.RowsAffected()), nil
}

// Insert writes rows in one transaction; either all rows are stored or none.
func (p *PgCollection) Insert(ctx context.Context, collection string, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for _, r := range rows {
		if r.ID == "" {
			return 0, errors.New("row id is required")
		}
		if len(r.Vector) != p.dimensions {
			return 0, fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", r.ID, len(r.Vector), p.dimensions)
		}
	}
	tbl, err := p.table(ctx, collection)
	if err != nil {
		return 0, err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `INSERT INTO ` + tbl + ` (id, doc_id, chunk_id, text, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			doc_id = EXCLUDED.doc_id,
			chunk_id = EXCLUDED.chunk_id,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding`
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(query, r.ID, r.DocID, r.ChunkID, truncateText(r.Text), pgvector.NewVector(r.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("insert rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return len(rows), nil
}

// Flush is a no-op: committed rows are already visible.
func (p *PgCollection) Flush(context.Context, string) error {
	return nil
}

func (p *PgCollection) Query(ctx context.Context, collection string, f Filter) ([]Row, error) {
	tbl, err := p.table(ctx, collection)
	if err != nil {
		return nil, err
	}
	var rows pgx.Rows
	if f.DocID == "" {
		rows, err = p.pool.Query(ctx, "SELECT id, doc_id, chunk_id, text, embedding FROM "+tbl+" ORDER BY id")
	} else {
		rows, err = p.pool.Query(ctx, "SELECT id, doc_id, chunk_id, text, embedding FROM "+tbl+" WHERE doc_id = $1 ORDER BY id", f.DocID)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", f.Expr(), err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var vec pgvector.Vector
		if err := rows.Scan(&r.ID, &r.DocID, &r.ChunkID, &r.Text, &vec); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Vector = vec.Slice()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (p *PgCollection) Close() error {
	p.pool.Close()
	return nil
}

var _ Collection = (*PgCollection)(nil)
