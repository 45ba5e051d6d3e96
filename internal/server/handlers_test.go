package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hyperjump/ingestd/internal/catalog"
	"github.com/hyperjump/ingestd/internal/config"
	"github.com/hyperjump/ingestd/internal/jobstatus"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/pipeline"
	"github.com/hyperjump/ingestd/internal/queue"
	"github.com/hyperjump/ingestd/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stubParity struct {
	report models.ParityReport
}

func (p *stubParity) Parity(_ context.Context, docID string) (models.ParityReport, error) {
	r := p.report
	r.DocID = docID
	return r, nil
}

type testServer struct {
	srv     *Server
	handler http.Handler
	jobs    *jobstatus.MemoryStore
	queue   *queue.MemoryQueue
	catalog *catalog.MemoryCatalog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	jobs := jobstatus.NewMemoryStore()
	q := queue.NewMemoryQueue(8)
	t.Cleanup(func() { q.Close() })
	cat := catalog.NewMemoryCatalog()
	metrics := telemetry.NewMetrics()
	deps := Deps{
		Submitter: pipeline.NewSubmitter(jobs, q, nil, metrics),
		Jobs:      jobs,
		Catalog:   cat,
		Parity:    &stubParity{report: models.ParityReport{Lexical: 3, Vector: 3, Match: true}},
		Queue:     q,
		Metrics:   metrics,
		DataPaths: []string{t.TempDir()},
	}
	srv := NewServer(deps, &config.ServerConfig{Host: "localhost", Port: 8080}, zap.NewNop())
	return &testServer{srv: srv, handler: srv.Routes(), jobs: jobs, queue: q, catalog: cat}
}

func (ts *testServer) do(method, path string, body []byte) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func TestHandleIngest_AcceptsAndPolls(t *testing.T) {
	ts := newTestServer(t)
	body, _ := json.Marshal(map[string]interface{}{
		"blob_path": "/acme/hr/handbook.pdf",
		"doc_id":    "handbook",
		"tags":      map[string]string{"language": "en"},
	})
	w := ts.do(http.MethodPost, "/api/ingest", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.IngestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID == "" || resp.Status != models.JobPending || resp.Message != pipeline.QueuedMessage {
		t.Errorf("response: got %+v", resp)
	}
	if ts.queue.InFlight() != 0 {
		t.Errorf("nothing should be in flight before a worker dequeues")
	}

	w = ts.do(http.MethodGet, "/api/ingest/"+resp.JobID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("poll status: got %d", w.Code)
	}
	var job models.Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobPending || job.DocID == nil || *job.DocID != "handbook" {
		t.Errorf("job: got %+v", job)
	}
	if job.CreatedAt == "" || job.UpdatedAt == "" {
		t.Errorf("timestamps missing: %+v", job)
	}
}

func TestHandleIngest_Validation(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/ingest", []byte(`{"doc_id":"x"}`))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want 422", w.Code)
	}
	if !strings.Contains(w.Body.String(), "blob_path") {
		t.Errorf("body should name blob_path: %s", w.Body.String())
	}
}

func TestHandleIngest_BadBody(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []string{`not json`, `{"blob_path":"/a/b/c.txt","extra":1}`} {
		w := ts.do(http.MethodPost, "/api/ingest", []byte(body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%q: got %d, want 400", body, w.Code)
		}
	}
}

func TestHandleIngest_QueueClosed(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.Close()
	w := ts.do(http.MethodPost, "/api/ingest", []byte(`{"blob_path":"/a/b/c.txt"}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", w.Code)
	}
	if n := ts.jobs.Len(); n != 0 {
		t.Errorf("jobs stored after failed enqueue: %d", n)
	}
}

func TestHandleJobStatus_Unknown(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/ingest/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestHandleGetDocument(t *testing.T) {
	ts := newTestServer(t)
	rec := &models.DocumentRecord{DocID: "d1", BlobPath: "/acme/hr/a.txt", Tenant: "acme", Dataset: "hr", ChunkCount: 2,
		IngestedAt: time.Now().UTC()}
	if err := ts.catalog.Upsert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	w := ts.do(http.MethodGet, "/api/documents/d1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var got models.DocumentRecord
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Tenant != "acme" || got.ChunkCount != 2 {
		t.Errorf("record: got %+v", got)
	}

	w = ts.do(http.MethodGet, "/api/documents/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: got %d", w.Code)
	}
}

func TestHandleGetDocument_NoCatalog(t *testing.T) {
	srv := NewServer(Deps{Jobs: jobstatus.NewMemoryStore()}, &config.ServerConfig{}, nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/documents/x", nil))
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleParity(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/documents/d1/parity", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var report models.ParityReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.DocID != "d1" || !report.Match || report.Lexical != 3 {
		t.Errorf("report: got %+v", report)
	}
}

func TestHandleNormalizeQuery(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/search/normalize?q="+"%20%20Hello%20%20World%20", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["normalized"] != "hello world" {
		t.Errorf("normalized: got %q", out["normalized"])
	}
}

func TestHandleStats(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/ingest", []byte(`{"blob_path":"/a/b/c.txt"}`))
	w := ts.do(http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]float64
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["queue_depth"] != 1 {
		t.Errorf("queue_depth: got %v", out["queue_depth"])
	}
	if _, ok := out["documents"]; !ok {
		t.Errorf("documents missing: %v", out)
	}
	if _, ok := out["disk_usage_bytes"]; !ok {
		t.Errorf("disk_usage_bytes missing: %v", out)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(http.MethodGet, "/api/health/live", nil); w.Code != http.StatusOK {
		t.Errorf("live: got %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/health/ready", nil); w.Code != http.StatusOK {
		t.Errorf("ready: got %d", w.Code)
	}
}

func TestHealthReady_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	srv := NewServer(Deps{Jobs: jobstatus.NewRedisStore(client)}, &config.ServerConfig{}, nil)
	mr.Close()

	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/ingest", []byte(`{"blob_path":"/a/b/c.txt"}`))
	w := ts.do(http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `ingestd_jobs_total{status="pending"} 1`) {
		t.Errorf("metrics body missing pending job count:\n%s", w.Body.String())
	}
}
