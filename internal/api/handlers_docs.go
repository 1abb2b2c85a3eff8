package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docscan/internal/docwriter"
	"github.com/dgallion1/docscan/internal/pipeline"
	"github.com/dgallion1/docscan/internal/report"
)

// handleHits returns the hits document of a finished run, read back from disk.
func (s *Server) handleHits(w http.ResponseWriter, r *http.Request) {
	run := s.orchestrator.Get(chi.URLParam(r, "runID"))
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	snap := run.Snapshot()
	if !snap.Status.Terminal() {
		jsonError(w, "run has not finished", http.StatusConflict)
		return
	}

	hits, err := s.loadHits(snap)
	if err != nil {
		jsonError(w, "hits document unavailable", http.StatusInternalServerError)
		return
	}
	resp := map[string]any{
		"run_id": snap.ID,
		"hits":   hits,
	}
	if snap.Result != nil && snap.Result.HitsPath != "" {
		resp["path"] = snap.Result.HitsPath
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReport renders the run summary as HTML. Hits are included once the
// run has finished.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	run := s.orchestrator.Get(chi.URLParam(r, "runID"))
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	snap := run.Snapshot()

	var hits []string
	if snap.Status.Terminal() {
		var err error
		if hits, err = s.loadHits(snap); err != nil {
			jsonError(w, "hits document unavailable", http.StatusInternalServerError)
			return
		}
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write(report.Markdown(snap, hits))
		return
	}
	body, err := report.HTML(report.Markdown(snap, hits))
	if err != nil {
		s.log.Error("render report", "run_id", snap.ID, "error", err)
		jsonError(w, "report unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(body)
}

// loadHits reads the hit lines back from the persisted hits document,
// skipping its heading.
func (s *Server) loadHits(snap pipeline.RunSnapshot) ([]string, error) {
	hits := []string{}
	if snap.Result == nil || snap.Result.HitsPath == "" {
		return hits, nil
	}
	paras, err := docwriter.Read(snap.Result.HitsPath)
	if err != nil {
		s.log.Error("read hits document", "run_id", snap.ID, "path", snap.Result.HitsPath, "error", err)
		return nil, err
	}
	for _, p := range paras {
		if p.Level > 0 || p.Text == "" {
			continue
		}
		hits = append(hits, p.Text)
	}
	return hits, nil
}
