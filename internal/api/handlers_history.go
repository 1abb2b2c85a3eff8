package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docscan/internal/history"
)

const maxHistoryLimit = 500

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, "run history disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	runs, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.log.Error("list run history", "error", err)
		jsonError(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, "run history disabled", http.StatusServiceUnavailable)
		return
	}
	e, err := s.history.Get(r.Context(), chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		jsonError(w, "run not found", http.StatusNotFound)
		return
	case err != nil:
		s.log.Error("read run history", "error", err)
		jsonError(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
