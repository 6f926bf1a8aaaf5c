package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/kernelgate/internal/model"
	"github.com/seantiz/kernelgate/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listExecutionsResponse wraps the paginated list response.
type listExecutionsResponse struct {
	Executions []*model.ExecutionRecord `json:"executions"`
	Total      int                      `json:"total"`
	Limit      int                      `json:"limit"`
	Offset     int                      `json:"offset"`
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)
	kernelID := r.URL.Query().Get("kernel_id")

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	execs, total, err := s.store.ListExecutions(r.Context(), kernelID, limit, offset)
	if err != nil {
		s.logger.Error("list executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if execs == nil {
		execs = []*model.ExecutionRecord{}
	}

	s.writeJSON(w, http.StatusOK, listExecutionsResponse{
		Executions: execs,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetExecutionStats(r.Context())
	if err != nil {
		s.logger.Error("get execution stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
