package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ingestd/internal/models"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; workers share the handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteCatalog{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		blob_path TEXT NOT NULL,
		tenant TEXT NOT NULL,
		dataset TEXT NOT NULL,
		tags TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		ingested_at TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
	CREATE INDEX IF NOT EXISTS idx_documents_tenant_dataset ON documents(tenant, dataset);
	`
	_, err := db.Exec(schema)
	return err
}

// Upsert inserts the record or replaces the existing one with the same doc_id.
func (s *SQLiteCatalog) Upsert(ctx context.Context, rec *models.DocumentRecord) error {
	if rec.DocID == "" {
		return errors.New("catalog: empty doc_id")
	}
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	rec.UpdatedAt = s.now().UTC()
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = rec.UpdatedAt
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (doc_id, sha256, blob_path, tenant, dataset, tags, chunk_count, ingested_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
		   sha256 = excluded.sha256,
		   blob_path = excluded.blob_path,
		   tenant = excluded.tenant,
		   dataset = excluded.dataset,
		   tags = excluded.tags,
		   chunk_count = excluded.chunk_count,
		   ingested_at = excluded.ingested_at,
		   updated_at = excluded.updated_at`,
		rec.DocID, rec.SHA256, rec.BlobPath, rec.Tenant, rec.Dataset, string(tagsJSON),
		rec.ChunkCount, rec.IngestedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.DocID, err)
	}
	return nil
}

const selectColumns = `SELECT doc_id, sha256, blob_path, tenant, dataset, tags, chunk_count, ingested_at, updated_at FROM documents`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	var tagsJSON sql.NullString
	if err := row.Scan(&rec.DocID, &rec.SHA256, &rec.BlobPath, &rec.Tenant, &rec.Dataset,
		&tagsJSON, &rec.ChunkCount, &rec.IngestedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &rec, nil
}

// Get returns the record for docID.
func (s *SQLiteCatalog) Get(ctx context.Context, docID string) (*models.DocumentRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE doc_id = ?`, docID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns records with offset and limit, newest update first.
func (s *SQLiteCatalog) List(ctx context.Context, offset, limit int) ([]*models.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` ORDER BY updated_at DESC, doc_id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.DocumentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes the record for docID. Deleting a missing record is not an error.
func (s *SQLiteCatalog) Delete(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	return err
}

// Count returns the number of records.
func (s *SQLiteCatalog) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}
