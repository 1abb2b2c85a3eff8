// Package app wires configuration into the page pipeline and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgallion1/docscan/internal/api"
	"github.com/dgallion1/docscan/internal/config"
	"github.com/dgallion1/docscan/internal/history"
	"github.com/dgallion1/docscan/internal/metrics"
	"github.com/dgallion1/docscan/internal/pages"
	"github.com/dgallion1/docscan/internal/pipeline"
	"github.com/dgallion1/docscan/internal/preprocess"
	"github.com/dgallion1/docscan/internal/recognize"
)

// NewWorker builds the extraction, preprocessing and OCR chain described by
// cfg. The returned Stats collects every recognition call; m may be nil.
func NewWorker(cfg config.Config, m *metrics.Metrics, log *slog.Logger) (*pipeline.Worker, *recognize.Stats) {
	poppler := pages.NewPoppler(cfg.PdftoppmPath, cfg.PdfinfoPath, cfg.PDFFallbackPdfinfo)
	extractor := pages.NewExtractor(poppler, cfg.PDFDPI)

	prep := preprocess.New(preprocess.Options{
		Contrast:     cfg.Contrast,
		TargetWidth:  cfg.TargetWidth,
		Threshold:    uint8(min(max(cfg.Threshold, 0), 255)),
		MedianKernel: cfg.MedianKernel,
		OpenKernel:   cfg.OpenKernel,
	})

	var engine recognize.Recognizer = recognize.NewTesseract(cfg.TessdataPrefix, cfg.PDFDPI)
	if m != nil {
		engine = m.Recognizer(engine)
	}
	stats := recognize.NewStats(time.Hour)
	rec := recognize.NewTimed(engine, stats)

	return pipeline.NewWorker(extractor, prep, rec, log, cfg.PageWorkers, cfg.MaxTranscriptPages), stats
}

// Serve runs the job API until ctx is done, then stops the orchestrator and
// shuts the listener down.
func Serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New()
	worker, stats := NewWorker(cfg, m, log)

	orch := pipeline.NewOrchestrator(cfg, worker, log)
	m.WatchQueue(orch.QueueDepth)
	orch.OnFinish(m.RunFinished)

	srv := api.NewServer(orch, stats, log, cfg).WithMetrics(m.Handler())

	if cfg.HistoryPath != "" {
		hist, err := history.Open(ctx, cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer hist.Close()
		orch.OnFinish(func(run *pipeline.Run) {
			recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := hist.Record(recCtx, run); err != nil {
				log.Error("record run history", "run_id", run.ID, "error", err)
			}
		})
		srv.WithHistory(hist)
	}

	orch.Start(context.WithoutCancel(ctx))
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting docscan", "port", cfg.Port, "workers", cfg.WorkerCount)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		orch.Stop()
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)

	// In-flight runs persist their partial results before Stop returns.
	orch.Stop()
	return err
}
