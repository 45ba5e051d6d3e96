package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/ingestd/internal/catalog"
	"github.com/hyperjump/ingestd/internal/jobstatus"
	"github.com/hyperjump/ingestd/internal/models"
	"github.com/hyperjump/ingestd/internal/normalize"
	"github.com/hyperjump/ingestd/internal/pipeline"
	"github.com/hyperjump/ingestd/pkg/utils"
	"go.uber.org/zap"
)

const maxRequestBytes = 1 << 20

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.BlobPath = strings.TrimSpace(req.BlobPath)
	s.logger.Debug("ingest request", zap.String("blob_path", req.BlobPath), zap.String("doc_id", req.DocID))

	resp, err := s.deps.Submitter.Submit(r.Context(), req)
	if err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			s.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  "validation failed",
				"fields": verr.Fields,
			})
			return
		}
		s.logger.Error("submit failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.Get(r.Context(), id)
	if errors.Is(err, jobstatus.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "job unknown or expired")
		return
	}
	if err != nil {
		s.logger.Error("job lookup failed", zap.String("job_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		s.respondError(w, http.StatusNotImplemented, "catalog not enabled")
		return
	}
	id := chi.URLParam(r, "doc_id")
	rec, err := s.deps.Catalog.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("catalog lookup failed", zap.String("doc_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleParity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Parity == nil {
		s.respondError(w, http.StatusNotImplemented, "parity not available")
		return
	}
	id := chi.URLParam(r, "doc_id")
	report, err := s.deps.Parity.Parity(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleNormalizeQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	s.respondJSON(w, http.StatusOK, map[string]string{
		"query":      q,
		"normalized": normalize.Query(q),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{}
	if s.deps.Catalog != nil {
		n, err := s.deps.Catalog.Count(ctx)
		if err != nil {
			s.logger.Error("stats: count documents failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["documents"] = n
	}
	if s.deps.Queue != nil {
		n, err := s.deps.Queue.Len(ctx)
		if err != nil {
			s.logger.Warn("stats: queue length failed", zap.Error(err))
		} else {
			resp["queue_depth"] = n
		}
	}
	if len(s.deps.DataPaths) > 0 {
		if n, err := utils.DiskUsageBytes(s.deps.DataPaths...); err == nil {
			resp["disk_usage_bytes"] = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Jobs.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
