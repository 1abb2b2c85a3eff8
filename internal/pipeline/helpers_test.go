package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dgallion1/docscan/internal/pages"
	"github.com/dgallion1/docscan/internal/preprocess"
)

// Page identity travels through the pipeline as the image width, so fakes
// can tell pages apart without looking at file names.

// widthRasterizer renders the PDFs it knows as pages of the listed widths.
type widthRasterizer struct {
	widths map[string][]int
}

func (r *widthRasterizer) Rasterize(ctx context.Context, pdfPath string, dpi int, outDir string) ([]string, error) {
	ws, ok := r.widths[filepath.Base(pdfPath)]
	if !ok {
		return nil, errors.New("cannot open pdf")
	}
	var out []string
	for i, w := range ws {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		p := filepath.Join(outDir, fmt.Sprintf("%s_%d.png", filepath.Base(pdfPath), i+1))
		if err := writeWidthPNG(p, w); err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// widthRecognizer returns canned text per image width.
type widthRecognizer struct {
	mu    sync.Mutex
	texts map[int]string
	errs  map[int]error
	hook  func(width int)
	calls []int
}

func (r *widthRecognizer) Recognize(ctx context.Context, img image.Image, language string) (string, error) {
	w := img.Bounds().Dx()
	if r.hook != nil {
		r.hook(w)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, w)
	if err := r.errs[w]; err != nil {
		return "", err
	}
	return r.texts[w], nil
}

func (r *widthRecognizer) called() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.calls...)
}

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	mu       sync.Mutex
	statuses []string
	progress []int
}

func (r *recorder) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, msg)
}

func (r *recorder) Progress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func newTestWorker(rast pages.Rasterizer, rec *widthRecognizer, pageWorkers, maxPages int) *Worker {
	return NewWorker(pages.NewExtractor(rast, 0), preprocess.New(preprocess.Options{}), rec, nil, pageWorkers, maxPages)
}

func writeWidthPNG(path string, w int) error {
	img := image.NewGray(image.Rect(0, 0, w, 2))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetGray(0, 0, color.Gray{Y: 10})
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeInput(t *testing.T, dir, name string, w int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := writeWidthPNG(p, w); err != nil {
		t.Fatal(err)
	}
	return p
}

func assertNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected %s to be gone, stat err = %v", path, err)
	}
}
