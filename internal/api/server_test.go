package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docscan/internal/config"
	"github.com/dgallion1/docscan/internal/history"
	"github.com/dgallion1/docscan/internal/metrics"
	"github.com/dgallion1/docscan/internal/pages"
	"github.com/dgallion1/docscan/internal/pipeline"
	"github.com/dgallion1/docscan/internal/preprocess"
	"github.com/dgallion1/docscan/internal/recognize"
)

const testKey = "secret"

type cannedRecognizer struct {
	text  string
	block chan struct{}
}

func (c *cannedRecognizer) Recognize(ctx context.Context, img image.Image, language string) (string, error) {
	if c.block != nil {
		<-c.block
	}
	return c.text, nil
}

type testEnv struct {
	srv   *Server
	orch  *pipeline.Orchestrator
	dir   string
	input string
}

func newEnv(t *testing.T, rec recognize.Recognizer, start bool) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.APIKey = testKey
	cfg.WorkerCount = 1
	cfg.MaxQueueSize = 1

	log := slog.New(slog.DiscardHandler)
	stats := recognize.NewStats(time.Hour)
	m := metrics.New()
	w := pipeline.NewWorker(pages.NewExtractor(nil, 0), preprocess.New(preprocess.Options{}),
		recognize.NewTimed(m.Recognizer(rec), stats), log, 1, 0)
	orch := pipeline.NewOrchestrator(cfg, w, log)
	m.WatchQueue(orch.QueueDepth)

	hist, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })
	orch.OnFinish(m.RunFinished)
	orch.OnFinish(func(r *pipeline.Run) { hist.Record(context.Background(), r) })

	if start {
		orch.Start(context.Background())
	}
	t.Cleanup(orch.Stop)

	dir := t.TempDir()
	input := filepath.Join(dir, "scan.png")
	f, err := os.Create(input)
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4)))
	f.Close()

	srv := NewServer(orch, stats, log, cfg).WithMetrics(m.Handler()).WithHistory(hist)
	return &testEnv{srv: srv, orch: orch, dir: dir, input: input}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) submit(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"files":      []string{e.input},
		"keywords":   []string{" Rechnung "},
		"output_dir": filepath.Join(e.dir, "out"),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	id, _ := resp["run_id"].(string)
	if id == "" {
		t.Fatalf("no run_id in %s", rec.Body.String())
	}
	if resp["poll_url"] != "/api/jobs/"+id+"/status" {
		t.Errorf("poll_url = %v", resp["poll_url"])
	}
	return id
}

func (e *testEnv) waitDone(t *testing.T, id string) pipeline.RunSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := e.do(t, http.MethodGet, "/api/jobs/"+id+"/status", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status code = %d", rec.Code)
		}
		var snap pipeline.RunSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return pipeline.RunSnapshot{}
}

func TestHealth(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{}, false)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{}, false)
	for name, header := range map[string]string{
		"missing": "",
		"invalid": "Bearer wrong",
		"scheme":  "Basic " + testKey,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/stats/ocr", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		e.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: code = %d, want 401", name, rec.Code)
		}
	}
}

func TestSubmit_Validation(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{}, false)
	cases := map[string]any{
		"no keywords":    map[string]any{"files": []string{e.input}, "keywords": []string{"  "}},
		"no files":       map[string]any{"keywords": []string{"x"}},
		"relative path":  map[string]any{"files": []string{"scan.png"}, "keywords": []string{"x"}},
		"unsupported":    map[string]any{"files": []string{"/tmp/a.docx"}, "keywords": []string{"x"}},
		"bad strategy":   map[string]any{"files": []string{e.input}, "keywords": []string{"x"}, "strategy": "sepia"},
		"malformed json": "not an object",
	}
	for name, body := range cases {
		rec := e.do(t, http.MethodPost, "/api/jobs", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d, want 400 (%s)", name, rec.Code, rec.Body.String())
		}
	}
}

func TestSubmit_QueueFullAndStopped(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{}, false)
	e.submit(t)

	rec := e.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"files": []string{e.input}, "keywords": []string{"x"},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("queue full: code = %d, want 503", rec.Code)
	}

	e.orch.Stop()
	rec = e.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"files": []string{e.input}, "keywords": []string{"x"},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stopped: code = %d, want 503", rec.Code)
	}
}

func TestJobFlow(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{text: "Rechnung Nr. 7\nsonst nichts\n"}, true)
	id := e.submit(t)

	snap := e.waitDone(t, id)
	if snap.Status != pipeline.StatusCompleted || snap.Progress != 100 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Result == nil || snap.Result.Hits != 1 || snap.Result.Pages != 1 {
		t.Fatalf("result = %+v", snap.Result)
	}

	rec := e.do(t, http.MethodGet, "/api/jobs/"+id+"/hits", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("hits code = %d, body = %s", rec.Code, rec.Body.String())
	}
	var hits struct {
		Hits []string `json:"hits"`
	}
	json.Unmarshal(rec.Body.Bytes(), &hits)
	if len(hits.Hits) != 1 || !strings.Contains(hits.Hits[0], "Rechnung Nr. 7") {
		t.Fatalf("hits = %v", hits.Hits)
	}

	rec = e.do(t, http.MethodGet, "/api/jobs/"+id+"/report", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("report = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if body := rec.Body.String(); !strings.Contains(body, "Rechnung Nr. 7") || !strings.Contains(body, "<h1>") {
		t.Errorf("report body = %s", body)
	}
	rec = e.do(t, http.MethodGet, "/api/jobs/"+id+"/report?format=markdown", nil)
	if !strings.HasPrefix(rec.Body.String(), "# OCR Lauf ") {
		t.Errorf("markdown report = %s", rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel finished run: code = %d, want 409", rec.Code)
	}
}

func TestEvents(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{text: "nothing"}, true)
	id := e.submit(t)
	e.waitDone(t, id)

	rec := e.do(t, http.MethodGet, "/api/jobs/"+id+"/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events code = %d", rec.Code)
	}
	var all struct {
		RunID   string           `json:"run_id"`
		Events  []pipeline.Event `json:"events"`
		LastSeq int64            `json:"last_seq"`
	}
	json.Unmarshal(rec.Body.Bytes(), &all)
	if all.RunID != id || len(all.Events) == 0 {
		t.Fatalf("events = %+v", all)
	}
	if all.LastSeq != all.Events[len(all.Events)-1].Seq {
		t.Errorf("last_seq = %d, want %d", all.LastSeq, all.Events[len(all.Events)-1].Seq)
	}
	if all.Events[len(all.Events)-1].Type != pipeline.EventTypeResult {
		t.Errorf("last event type = %q, want result", all.Events[len(all.Events)-1].Type)
	}

	rec = e.do(t, http.MethodGet, "/api/jobs/"+id+"/events?since="+jsonInt(all.LastSeq), nil)
	var tail struct {
		Events  []pipeline.Event `json:"events"`
		LastSeq int64            `json:"last_seq"`
	}
	json.Unmarshal(rec.Body.Bytes(), &tail)
	if len(tail.Events) != 0 || tail.LastSeq != all.LastSeq {
		t.Errorf("tail = %+v", tail)
	}

	if rec := e.do(t, http.MethodGet, "/api/jobs/"+id+"/events?since=-1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative since: code = %d, want 400", rec.Code)
	}
}

func TestCancelRunningJob(t *testing.T) {
	block := make(chan struct{})
	e := newEnv(t, &cannedRecognizer{text: "rechnung", block: block}, true)
	id := e.submit(t)

	rec := e.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel code = %d, body = %s", rec.Code, rec.Body.String())
	}
	close(block)

	snap := e.waitDone(t, id)
	if snap.Status != pipeline.StatusCancelled && snap.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %s", snap.Status)
	}
	if !snap.CancelRequested {
		t.Error("cancel_requested not reported")
	}
}

func TestUnknownRun(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{}, false)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/jobs/nope/status"},
		{http.MethodGet, "/api/jobs/nope/events"},
		{http.MethodGet, "/api/jobs/nope/hits"},
		{http.MethodGet, "/api/jobs/nope/report"},
		{http.MethodPost, "/api/jobs/nope/cancel"},
	} {
		if rec := e.do(t, tc.method, tc.path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: code = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}

func TestHits_NotFinished(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{}, false)
	id := e.submit(t)
	if rec := e.do(t, http.MethodGet, "/api/jobs/"+id+"/hits", nil); rec.Code != http.StatusConflict {
		t.Errorf("code = %d, want 409", rec.Code)
	}
}

func TestOCRStats(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{text: "x"}, true)
	e.waitDone(t, e.submit(t))

	rec := e.do(t, http.MethodGet, "/api/stats/ocr", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp struct {
		QueueDepth int                     `json:"queue_depth"`
		Stats      recognize.StatsSnapshot `json:"stats"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Stats.Calls != 1 || resp.Stats.Failures != 0 {
		t.Errorf("stats = %+v", resp.Stats)
	}

	e.srv.stats = nil
	if rec := e.do(t, http.MethodGet, "/api/stats/ocr", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("nil stats: code = %d, want 503", rec.Code)
	}
}

func TestHistoryAndMetrics(t *testing.T) {
	e := newEnv(t, &cannedRecognizer{text: "Rechnung"}, true)
	id := e.submit(t)
	e.waitDone(t, id)

	// The history hook runs right after the terminal transition.
	var rec *httptest.ResponseRecorder
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec = e.do(t, http.MethodGet, "/api/runs/"+id, nil)
		if rec.Code == http.StatusOK {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("history entry code = %d", rec.Code)
	}
	var entry history.Entry
	json.Unmarshal(rec.Body.Bytes(), &entry)
	if entry.Status != pipeline.StatusCompleted || entry.Hits != 1 || entry.Keywords[0] != "rechnung" {
		t.Errorf("entry = %+v", entry)
	}

	rec = e.do(t, http.MethodGet, "/api/runs?limit=10", nil)
	var list struct {
		Runs []history.Entry `json:"runs"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Runs) != 1 || list.Runs[0].RunID != id {
		t.Errorf("runs = %+v", list.Runs)
	}
	if rec := e.do(t, http.MethodGet, "/api/runs?limit=zero", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: code = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/runs/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown history run: code = %d", rec.Code)
	}

	mrec := httptest.NewRecorder()
	e.srv.ServeHTTP(mrec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := mrec.Body.String()
	for _, want := range []string{
		`docscan_runs_total{status="completed"} 1`,
		"docscan_hits_total 1",
		"docscan_queue_depth 0",
		`docscan_recognition_duration_seconds_count{outcome="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestOptionalFeaturesDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.APIKey = testKey
	log := slog.New(slog.DiscardHandler)
	orch := pipeline.NewOrchestrator(cfg, pipeline.NewWorker(nil, nil, nil, log, 1, 0), log)
	e := &testEnv{srv: NewServer(orch, nil, log, cfg)}

	if rec := e.do(t, http.MethodGet, "/api/runs", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("runs without history: code = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/metrics", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("metrics disabled: code = %d", rec.Code)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
