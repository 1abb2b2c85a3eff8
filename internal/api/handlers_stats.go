package api

import (
	"net/http"
)

func (s *Server) handleOCRStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "ocr stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"language":    s.cfg.Language,
		"queue_depth": s.orchestrator.QueueDepth(),
		"stats":       s.stats.Snapshot(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		return
	}
	s.metrics.ServeHTTP(w, r)
}
