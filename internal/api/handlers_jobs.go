package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docscan/internal/match"
	"github.com/dgallion1/docscan/internal/pipeline"
	"github.com/dgallion1/docscan/internal/preprocess"
)

const maxRequestBytes = 1 << 20

type submitRequest struct {
	Files          []string `json:"files"`
	Keywords       []string `json:"keywords"`
	Language       string   `json:"language"`
	Strategy       string   `json:"strategy"`
	FullTranscript bool     `json:"full_transcript"`
	Highlight      bool     `json:"highlight"`
	OutputDir      string   `json:"output_dir"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.buildJob(req)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	run, err := s.orchestrator.Submit(job)
	switch {
	case errors.Is(err, pipeline.ErrInvalidJob):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":   run.ID,
		"status":   run.Snapshot().Status,
		"poll_url": fmt.Sprintf("/api/jobs/%s/status", run.ID),
	})
}

// buildJob fills unset request fields from the configured defaults.
func (s *Server) buildJob(req submitRequest) (pipeline.Job, error) {
	strategyName := req.Strategy
	if strategyName == "" {
		strategyName = s.cfg.Strategy
	}
	strategy, err := preprocess.ParseStrategy(strategyName)
	if err != nil {
		return pipeline.Job{}, err
	}

	lang := req.Language
	if lang == "" {
		lang = s.cfg.Language
	}
	outDir := req.OutputDir
	if outDir == "" {
		outDir = s.cfg.OutputDir
	}

	files := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		if !filepath.IsAbs(f) {
			return pipeline.Job{}, fmt.Errorf("file path must be absolute: %s", f)
		}
		files = append(files, filepath.Clean(f))
	}

	return pipeline.Job{
		Files:          files,
		Keywords:       match.NormalizeKeywords(req.Keywords),
		Language:       lang,
		Strategy:       strategy,
		FullTranscript: req.FullTranscript,
		Highlight:      req.Highlight,
		OutputDir:      outDir,
	}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run := s.orchestrator.Get(chi.URLParam(r, "runID"))
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run := s.orchestrator.Get(runID)
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			jsonError(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = n
	}

	events := run.Events(since)
	last := since
	if len(events) > 0 {
		last = events[len(events)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"events":   events,
		"last_seq": last,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	err := s.orchestrator.Cancel(runID)
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound):
		jsonError(w, "run not found", http.StatusNotFound)
		return
	case errors.Is(err, pipeline.ErrRunFinished):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":           runID,
		"cancel_requested": true,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
