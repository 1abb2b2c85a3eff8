// Package metrics exposes run and recognition counters in Prometheus format.
package metrics

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/docscan/internal/pipeline"
	"github.com/dgallion1/docscan/internal/recognize"
)

const namespace = "docscan"

// Metrics owns a private registry so tests and multiple servers never collide.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	pages       prometheus.Counter
	hits        prometheus.Counter
	failures    prometheus.Counter
	artifacts   prometheus.Counter
	recognition *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by terminal status.",
		}, []string{"status"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_processed_total",
			Help:      "Pages that were recognized successfully.",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Keyword hits across all runs.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_failures_total",
			Help:      "Skipped files, pages and dropped artifacts.",
		}),
		artifacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_written_total",
			Help:      "Transcript and hits documents persisted.",
		}),
		recognition: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_duration_seconds",
			Help:      "OCR latency per page.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.runs, m.pages, m.hits, m.failures, m.artifacts, m.recognition)
	return m
}

// WatchQueue exports the current queue depth as a gauge.
func (m *Metrics) WatchQueue(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Runs waiting for a worker.",
	}, func() float64 { return float64(depth()) }))
}

// RunFinished records the outcome of a terminal run. It has the signature of
// an Orchestrator.OnFinish hook.
func (m *Metrics) RunFinished(run *pipeline.Run) {
	snap := run.Snapshot()
	m.runs.WithLabelValues(string(snap.Status)).Inc()
	if snap.Result == nil {
		return
	}
	m.pages.Add(float64(snap.Result.Pages))
	m.hits.Add(float64(snap.Result.Hits))
	m.failures.Add(float64(len(snap.Result.Failures)))
	m.artifacts.Add(float64(len(snap.Result.Artifacts())))
}

// Recognizer wraps next so every call is observed in the latency histogram.
func (m *Metrics) Recognizer(next recognize.Recognizer) recognize.Recognizer {
	return &instrumented{next: next, hist: m.recognition}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type instrumented struct {
	next recognize.Recognizer
	hist *prometheus.HistogramVec
}

func (i *instrumented) Recognize(ctx context.Context, img image.Image, language string) (string, error) {
	start := time.Now()
	text, err := i.next.Recognize(ctx, img, language)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.hist.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return text, err
}
