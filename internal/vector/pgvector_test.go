package vector

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPgVector runs a pgvector container, skipping the test when Docker is unavailable.
func startPgVector(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	var container testcontainers.Container
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("docker unavailable: %v", r)
			}
		}()
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "pgvector/pgvector:pg16",
				ExposedPorts: []string{"5432/tcp"},
				Env: map[string]string{
					"POSTGRES_USER":     "ingest",
					"POSTGRES_PASSWORD": "ingest",
					"POSTGRES_DB":       "ingest",
				},
				WaitingFor: wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(90 * time.Second),
			},
			Started: true,
		})
	}()
	if err != nil {
		t.Skipf("pgvector container not available: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://ingest:ingest@%s:%s/ingest?sslmode=disable", host, port.Port())
}

func TestPgCollection(t *testing.T) {
	dsn := startPgVector(t)
	ctx := context.Background()

	p, err := NewPgCollection(ctx, dsn, 3, nil)
	if err != nil {
		t.Fatalf("NewPgCollection: %v", err)
	}
	defer p.Close()

	if n, err := p.Insert(ctx, DefaultCollection, rowsFor("doc-a", 5, 3)); err != nil || n != 5 {
		t.Fatalf("Insert = %d, %v", n, err)
	}
	if err := p.Flush(ctx, DefaultCollection); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	rows, err := p.Query(ctx, DefaultCollection, Filter{DocID: "doc-a"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(rows))
	}
	if len(rows[0].Vector) != 3 || rows[0].Vector[0] != 1 {
		t.Errorf("vector = %v", rows[0].Vector)
	}

	deleted, err := p.Delete(ctx, DefaultCollection, Filter{DocID: "doc-a"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted != 5 {
		t.Errorf("Delete = %d, want 5", deleted)
	}
	if _, err := p.Insert(ctx, DefaultCollection, rowsFor("doc-a", 2, 3)); err != nil {
		t.Fatalf("re-Insert: %v", err)
	}
	rows, _ = p.Query(ctx, DefaultCollection, Filter{DocID: "doc-a"})
	if len(rows) != 2 {
		t.Errorf("rows after replace = %d, want 2", len(rows))
	}

	if _, err := p.Query(ctx, "bad name;", Filter{}); err == nil {
		t.Error("expected error for invalid collection name")
	}
}
