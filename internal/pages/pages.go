// Package pages turns input documents into single-page PNG files on
// temporary storage. PDFs are rasterized page by page; other supported
// images are re-encoded as one PNG page.
package pages

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dgallion1/docscan/internal/stage"
)

// DefaultDPI is the rasterization resolution for PDF pages.
const DefaultDPI = 300

// SupportedExtensions lists the input extensions the pipeline accepts.
var SupportedExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
}

// IsSupported reports whether path has an accepted extension.
func IsSupported(path string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsPDF reports whether path is dispatched to the rasterizer.
func IsPDF(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".pdf"
}

// Page is one extracted raster page.
type Page struct {
	Source string // input document path
	Index  int    // 1-based page number within Source
	Path   string // temporary PNG file
}

// Name is the file name of the page image, used to attribute hits.
func (p Page) Name() string { return filepath.Base(p.Path) }

// Rasterizer renders every page of a PDF into outDir and returns the image
// paths in page order. On failure it returns the pages written so far.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, dpi int, outDir string) ([]string, error)
}

// Extractor dispatches input files by extension.
type Extractor struct {
	rasterizer Rasterizer
	dpi        int
}

func NewExtractor(r Rasterizer, dpi int) *Extractor {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Extractor{rasterizer: r, dpi: dpi}
}

// Extract materializes the pages of filePath into tempDir. Errors wrap
// stage.ErrExtraction; pages produced before a failure are still returned so
// the caller can remove them.
func (e *Extractor) Extract(ctx context.Context, filePath, tempDir string) ([]Page, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, stage.Wrap(stage.Extraction, filePath, fmt.Errorf("create temp dir: %w", err))
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch {
	case ext == ".pdf":
		if e.rasterizer == nil {
			return nil, stage.Errorf(stage.Extraction, filePath, "no pdf rasterizer configured")
		}
		paths, err := e.rasterizer.Rasterize(ctx, filePath, e.dpi, tempDir)
		pages := make([]Page, 0, len(paths))
		for i, p := range paths {
			pages = append(pages, Page{Source: filePath, Index: i + 1, Path: p})
		}
		if err != nil {
			return pages, stage.Wrap(stage.Extraction, filePath, err)
		}
		if len(pages) == 0 {
			return nil, stage.Errorf(stage.Extraction, filePath, "pdf has no pages")
		}
		return pages, nil

	case SupportedExtensions[ext]:
		out, err := convertImage(filePath, tempDir)
		if err != nil {
			return nil, stage.Wrap(stage.Extraction, filePath, err)
		}
		return []Page{{Source: filePath, Index: 1, Path: out}}, nil

	default:
		return nil, stage.Errorf(stage.Extraction, filePath, "unsupported file extension: %s", ext)
	}
}

// convertImage decodes src and writes it as PNG into dir.
func convertImage(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer in.Close()

	mt, err := mimetype.DetectReader(in)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("content is %s, not an image", mt.String())
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind image: %w", err)
	}

	img, _, err := image.Decode(in)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out, path, err := createUnique(dir, stem, ".png")
	if err != nil {
		return "", err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close png: %w", err)
	}
	return path, nil
}

const maxNameAttempts = 1000

// createUnique exclusively creates dir/stem+ext, appending _1, _2, ... to
// stem when the name is taken.
func createUnique(dir, stem, ext string) (*os.File, string, error) {
	for n := 0; n < maxNameAttempts; n++ {
		name := stem + ext
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s%s in %s", stem, ext, dir)
}
