package vector

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func rowsFor(docID string, n, dims int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		vec := make([]float32, dims)
		vec[i%dims] = 1
		chunkID := fmt.Sprintf("%04d", i)
		rows[i] = Row{ID: docID + ":" + chunkID, DocID: docID, ChunkID: chunkID, Text: "chunk text", Vector: vec}
	}
	return rows
}

func TestMemoryCollection_InsertVisibleAfterFlush(t *testing.T) {
	m, err := NewMemoryCollection(3)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx := context.Background()

	n, err := m.Insert(ctx, DefaultCollection, rowsFor("doc-a", 3, 3))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Insert = %d, want 3", n)
	}
	rows, _ := m.Query(ctx, DefaultCollection, Filter{DocID: "doc-a"})
	if len(rows) != 0 {
		t.Errorf("rows visible before Flush: %d", len(rows))
	}
	if err := m.Flush(ctx, DefaultCollection); err != nil {
		t.Fatal(err)
	}
	rows, _ = m.Query(ctx, DefaultCollection, Filter{DocID: "doc-a"})
	if len(rows) != 3 {
		t.Fatalf("rows after Flush = %d, want 3", len(rows))
	}
	if rows[0].ID != "doc-a:0000" || rows[2].ID != "doc-a:0002" {
		t.Errorf("rows not ordered by id: %s .. %s", rows[0].ID, rows[2].ID)
	}
}

func TestMemoryCollection_DeleteByDocID(t *testing.T) {
	m, _ := NewMemoryCollection(2)
	ctx := context.Background()
	_, _ = m.Insert(ctx, "c", rowsFor("doc-a", 5, 2))
	_, _ = m.Insert(ctx, "c", rowsFor("doc-b", 2, 2))
	_ = m.Flush(ctx, "c")

	n, err := m.Delete(ctx, "c", Filter{DocID: "doc-a"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("Delete = %d, want 5", n)
	}
	if m.Size("c") != 2 {
		t.Errorf("Size = %d, want 2", m.Size("c"))
	}

	_, _ = m.Insert(ctx, "c", rowsFor("doc-b", 1, 2))
	if n, _ := m.Delete(ctx, "c", Filter{DocID: "doc-b"}); n != 3 {
		t.Errorf("Delete staged+visible = %d, want 3", n)
	}
	_ = m.Flush(ctx, "c")
	if m.Size("c") != 0 {
		t.Errorf("Size = %d, want 0", m.Size("c"))
	}
}

func TestMemoryCollection_InsertRejectsBadRows(t *testing.T) {
	m, _ := NewMemoryCollection(3)
	ctx := context.Background()
	rows := rowsFor("doc", 2, 3)
	rows[1].Vector = []float32{1}
	if _, err := m.Insert(ctx, "c", rows); err == nil {
		t.Error("expected dimension error")
	}
	_ = m.Flush(ctx, "c")
	if m.Size("c") != 0 {
		t.Errorf("partial insert staged %d rows", m.Size("c"))
	}
	if _, err := m.Insert(ctx, "c", []Row{{Vector: make([]float32, 3)}}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestMemoryCollection_TruncatesText(t *testing.T) {
	m, _ := NewMemoryCollection(1)
	ctx := context.Background()
	_, _ = m.Insert(ctx, "c", []Row{{ID: "d:0000", DocID: "d", Text: strings.Repeat("é", MaxTextLen+10), Vector: []float32{1}}})
	_ = m.Flush(ctx, "c")
	rows, _ := m.Query(ctx, "c", Filter{})
	if got := len([]rune(rows[0].Text)); got != MaxTextLen {
		t.Errorf("text length = %d, want %d", got, MaxTextLen)
	}
}

func TestMemoryCollection_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	m, _ := NewMemoryCollection(2)
	_, _ = m.Insert(ctx, "chunks", rowsFor("doc-a", 2, 2))
	_ = m.Flush(ctx, "chunks")
	if err := m.Save(dir); err != nil {
		t.Fatal(err)
	}

	m2, _ := NewMemoryCollection(2)
	if err := m2.Load(dir); err != nil {
		t.Fatal(err)
	}
	rows, _ := m2.Query(ctx, "chunks", Filter{DocID: "doc-a"})
	if len(rows) != 2 {
		t.Fatalf("loaded rows = %d, want 2", len(rows))
	}
	if rows[1].ChunkID != "0001" || rows[1].Vector[1] != 1 {
		t.Errorf("loaded row = %+v", rows[1])
	}

	m3, _ := NewMemoryCollection(3)
	if err := m3.Load(dir); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if err := m3.Load(dir + "/missing"); err != nil {
		t.Errorf("missing dir: %v", err)
	}
}

func TestFilter_Expr(t *testing.T) {
	if got := (Filter{DocID: "msa-1"}).Expr(); got != `doc_id == "msa-1"` {
		t.Errorf("Expr = %s", got)
	}
	if got := (Filter{DocID: `a"b`}).Expr(); got != `doc_id == "a\"b"` {
		t.Errorf("Expr = %s", got)
	}
	if got := (Filter{}).Expr(); got != "" {
		t.Errorf("Expr = %q, want empty", got)
	}
}
