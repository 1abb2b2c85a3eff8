package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docscan/internal/docwriter"
	"github.com/dgallion1/docscan/internal/match"
	"github.com/dgallion1/docscan/internal/pages"
	"github.com/dgallion1/docscan/internal/preprocess"
	"github.com/dgallion1/docscan/internal/recognize"
	"github.com/dgallion1/docscan/internal/stage"
)

const (
	transcriptNamePattern = "ocr_ausgabe_%d.docx"
	hitsName              = "ocr_treffer.docx"
)

// PageExtractor splits one input document into page images.
type PageExtractor interface {
	Extract(ctx context.Context, filePath, tempDir string) ([]pages.Page, error)
}

// Preparer applies a preprocessing strategy to one page image.
type Preparer interface {
	Prepare(img image.Image, s preprocess.Strategy, source string) (image.Image, error)
}

// Worker executes the batch algorithm for one job at a time.
type Worker struct {
	extractor  PageExtractor
	preparer   Preparer
	recognizer recognize.Recognizer
	log        *slog.Logger

	pageWorkers        int
	maxTranscriptPages int
}

// NewWorker wires the page pipeline. pageWorkers > 1 recognizes the pages of
// one file concurrently; maxTranscriptPages = 0 disables transcript rollover.
func NewWorker(ex PageExtractor, prep Preparer, rec recognize.Recognizer, log *slog.Logger, pageWorkers, maxTranscriptPages int) *Worker {
	if pageWorkers <= 0 {
		pageWorkers = 1
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		extractor:          ex,
		preparer:           prep,
		recognizer:         rec,
		log:                log,
		pageWorkers:        pageWorkers,
		maxTranscriptPages: maxTranscriptPages,
	}
}

// runState is owned by the goroutine executing Process.
type runState struct {
	job         Job
	tempDir     string
	hits        []Hit
	transcripts *transcriptSet
	tempFiles   []string
	failures    []string
	pages       int
	cancelled   bool
	obs         Observer
	log         *slog.Logger
}

type pageResult struct {
	page    pages.Page
	text    string
	err     error
	skipped bool
	panic   any
}

// Process runs job to completion, cancellation or failure. Whatever has been
// accumulated is persisted and temporary pages are removed in every case.
func (w *Worker) Process(ctx context.Context, job Job, obs Observer) (res Result) {
	if obs == nil {
		obs = nopObserver{}
	}
	st := &runState{
		job:         job,
		tempDir:     job.TempDir(),
		transcripts: newTranscriptSet(w.maxTranscriptPages),
		obs:         obs,
		log:         w.log.With("files", len(job.Files), "strategy", job.Strategy.String(), "language", job.Language),
	}

	defer func() {
		var err error
		if r := recover(); r != nil {
			st.log.Error("run aborted by panic", "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
		res = w.finalize(st, err)
	}()

	w.run(ctx, st)
	return res
}

func (w *Worker) run(ctx context.Context, st *runState) {
	total := len(st.job.Files)
	// Pages are never interrupted once started.
	pageCtx := context.WithoutCancel(ctx)

	for i, file := range st.job.Files {
		if ctx.Err() != nil {
			st.cancel()
			return
		}
		name := filepath.Base(file)
		st.obs.Status(fmt.Sprintf("[%d/%d] Verarbeite: %s", i+1, total, name))
		st.obs.Progress(i * 100 / total)

		pgs, err := w.extractor.Extract(ctx, file, st.tempDir)
		for _, p := range pgs {
			st.tempFiles = append(st.tempFiles, p.Path)
		}
		if err != nil {
			if ctx.Err() != nil {
				st.cancel()
				return
			}
			st.fail(name, err)
			continue
		}
		st.log.Debug("pages extracted", "file", name, "pages", len(pgs))

		complete := w.recognizePages(ctx, pageCtx, st.job, pgs, st.obs, func(r pageResult) {
			st.collect(i, r)
		})
		if !complete {
			st.cancel()
			return
		}
	}
}

// recognizePages prepares and recognizes pgs, handing results to emit in page
// order. It reports false when cancellation stopped it before the last page.
func (w *Worker) recognizePages(ctx, pageCtx context.Context, job Job, pgs []pages.Page, obs Observer, emit func(pageResult)) bool {
	if w.pageWorkers <= 1 || len(pgs) <= 1 {
		for _, p := range pgs {
			if ctx.Err() != nil {
				return false
			}
			obs.Status(fmt.Sprintf("   ↳ OCR: %s wird verarbeitet...", p.Name()))
			text, err := w.processPage(pageCtx, job, p)
			emit(pageResult{page: p, text: text, err: err})
		}
		return true
	}

	results := make([]pageResult, len(pgs))
	var g errgroup.Group
	g.SetLimit(w.pageWorkers)

	started := 0
	for i, p := range pgs {
		if ctx.Err() != nil {
			break
		}
		obs.Status(fmt.Sprintf("   ↳ OCR: %s wird verarbeitet...", p.Name()))
		started++
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = pageResult{page: p, panic: r}
				}
			}()
			if ctx.Err() != nil {
				results[i] = pageResult{page: p, skipped: true}
				return nil
			}
			text, err := w.processPage(pageCtx, job, p)
			results[i] = pageResult{page: p, text: text, err: err}
			return nil
		})
	}
	g.Wait()

	for _, r := range results[:started] {
		if r.panic != nil {
			panic(r.panic)
		}
		if r.skipped {
			return false
		}
		emit(r)
	}
	return started == len(pgs)
}

// processPage loads, prepares and recognizes one page.
func (w *Worker) processPage(ctx context.Context, job Job, p pages.Page) (string, error) {
	img, err := preprocess.LoadImage(p.Path)
	if err != nil {
		return "", err
	}
	prepared, err := w.preparer.Prepare(img, job.Strategy, p.Path)
	if err != nil {
		return "", err
	}
	text, err := w.recognizer.Recognize(ctx, prepared, job.Language)
	if err != nil {
		if _, ok := stage.Of(err); !ok {
			err = stage.Wrap(stage.Recognition, p.Path, err)
		}
		return "", err
	}
	return text, nil
}

func (st *runState) collect(fileIdx int, r pageResult) {
	if r.err != nil {
		st.fail(fmt.Sprintf("%s, Seite %d", filepath.Base(r.page.Source), r.page.Index), r.err)
		return
	}
	st.pages++

	lines := splitLines(r.text)
	for _, line := range lines {
		kws := match.FindMatches(line, st.job.Keywords)
		if len(kws) == 0 {
			continue
		}
		st.hits = append(st.hits, Hit{
			Source:   filepath.Base(r.page.Source),
			Page:     r.page.Index,
			PageName: r.page.Name(),
			Keywords: kws,
			Line:     match.NormalizeLine(line),
		})
	}
	if st.job.FullTranscript {
		st.transcripts.addPage(fileIdx, r.page.Source, lines, st.job.Keywords, st.job.Highlight)
	}
}

func (st *runState) fail(subject string, err error) {
	st.failures = append(st.failures, fmt.Sprintf("%s: %v", subject, err))
	st.obs.Status(fmt.Sprintf("[!] %s fehlgeschlagen für %s: %v", stageLabel(err), subject, err))
	name, _ := stage.Of(err)
	st.log.Warn("item failed", "item", subject, "stage", string(name), "error", err)
}

func (st *runState) cancel() {
	st.cancelled = true
	st.obs.Status("[!] OCR abgebrochen.")
	st.log.Info("run cancelled", "pages", st.pages, "hits", len(st.hits))
}

// finalize persists the accumulated documents and removes temporary pages.
func (w *Worker) finalize(st *runState, runErr error) Result {
	res := Result{Status: StatusCompleted, Err: runErr}
	switch {
	case runErr != nil:
		res.Status = StatusFailed
	case st.cancelled:
		res.Status = StatusCancelled
	}

	outDir := st.job.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(st.tempDir)
	}

	if st.job.FullTranscript {
		for i, t := range st.transcripts.list {
			if t.Empty() {
				continue
			}
			path, err := docwriter.Save(t.Document(), fmt.Sprintf(transcriptNamePattern, i+1), outDir)
			if err != nil {
				st.fail(fmt.Sprintf(transcriptNamePattern, i+1), err)
				continue
			}
			res.Transcripts = append(res.Transcripts, path)
		}
	}
	if len(st.hits) > 0 {
		path, err := docwriter.Save(hitsDocument(st.hits), hitsName, outDir)
		if err != nil {
			st.fail(hitsName, err)
		} else {
			res.HitsPath = path
		}
	}

	st.cleanup()

	res.Hits = len(st.hits)
	res.Pages = st.pages
	res.Failures = st.failures
	if res.Failures == nil {
		res.Failures = []string{}
	}

	st.obs.Status(fmt.Sprintf("[✔] OCR abgeschlossen. %d Treffer. Ergebnisse: %s", res.Hits, strings.Join(res.Artifacts(), ", ")))
	st.obs.Progress(100)
	st.log.Info("run finished",
		"status", string(res.Status),
		"pages", res.Pages,
		"hits", res.Hits,
		"artifacts", len(res.Artifacts()),
		"failures", len(res.Failures),
	)
	return res
}

// cleanup removes every registered page and the temp dir if it is empty.
// Errors are ignored.
func (st *runState) cleanup() {
	for _, f := range st.tempFiles {
		_ = os.Remove(f)
	}
	_ = os.Remove(st.tempDir)
}

func stageLabel(err error) string {
	name, _ := stage.Of(err)
	switch name {
	case stage.Extraction:
		return "Extraktion"
	case stage.Preprocessing:
		return "Bildoptimierung"
	case stage.Recognition:
		return "Texterkennung"
	case stage.Persist:
		return "Speichern"
	default:
		return "Verarbeitung"
	}
}

// splitLines splits recognized text on line boundaries, dropping the final
// empty line a trailing terminator would produce.
func splitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n', '\f', '\v':
			lines = append(lines, text[start:i])
			start = i + 1
		case '\r':
			lines = append(lines, text[start:i])
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}
