// Package server provides the HTTP API for ingestd.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/ingestd/internal/catalog"
	"github.com/hyperjump/ingestd/internal/config"
	"github.com/hyperjump/ingestd/internal/jobstatus"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/queue"
	"github.com/hyperjump/ingestd/internal/telemetry"
	"go.uber.org/zap"
)

// JobSubmitter accepts ingest requests.
type JobSubmitter interface {
	Submit(ctx context.Context, req models.IngestRequest) (*models.IngestResponse, error)
}

// ParityChecker compares per-document counts across the two indexes.
type ParityChecker interface {
	Parity(ctx context.Context, docID string) (models.ParityReport, error)
}

// Deps are the collaborators the handlers use. Catalog, Parity and Queue are
// optional; their routes answer 501 when unset.
type Deps struct {
	Submitter JobSubmitter
	Jobs      jobstatus.Store
	Catalog   catalog.Catalog
	Parity    ParityChecker
	Queue     queue.Queue
	Metrics   *telemetry.Metrics
	// DataPaths are summed for disk usage in /api/stats.
	DataPaths []string
}

// Server is the HTTP server for the ingestd API.
type Server struct {
	deps   Deps
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{deps: deps, config: cfg, logger: logger}
}

// Routes returns the router with all API routes mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/ingest/{job_id}", s.handleJobStatus)
		r.Get("/documents/{doc_id}", s.handleGetDocument)
		r.Get("/documents/{doc_id}/parity", s.handleParity)
		r.Get("/search/normalize", s.handleNormalizeQuery)
		r.Get("/stats", s.handleStats)
		r.Get("/health/live", s.handleLive)
		r.Get("/health/ready", s.handleReady)
	})
	r.Handle("/metrics", s.deps.Metrics.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
