package pages

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	pdflib "github.com/ledongthuc/pdf"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Poppler rasterizes PDFs with pdftoppm, one invocation per page. The page
// count comes from the Go PDF reader, with pdfinfo as an optional fallback.
type Poppler struct {
	pdftoppm        string
	pdfinfo         string
	fallbackPdfinfo bool
	runner          commandRunner
	countPages      func(path string) (int, error)
}

// NewPoppler returns a rasterizer using the given tool paths. Empty paths
// resolve through $PATH.
func NewPoppler(pdftoppmPath, pdfinfoPath string, fallbackPdfinfo bool) *Poppler {
	if pdftoppmPath == "" {
		pdftoppmPath = "pdftoppm"
	}
	if pdfinfoPath == "" {
		pdfinfoPath = "pdfinfo"
	}
	return &Poppler{
		pdftoppm:        pdftoppmPath,
		pdfinfo:         pdfinfoPath,
		fallbackPdfinfo: fallbackPdfinfo,
		runner:          execRunner{},
		countPages:      readPageCount,
	}
}

// Rasterize writes <base>_<i>.png for every page i of pdfPath into outDir.
func (p *Poppler) Rasterize(ctx context.Context, pdfPath string, dpi int, outDir string) ([]string, error) {
	n, err := p.pageCount(ctx, pdfPath)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(pdfPath)
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		// Reserve the target name so concurrent runs sharing outDir never
		// render onto each other; pdftoppm then overwrites the empty file.
		f, target, err := createUnique(outDir, fmt.Sprintf("%s_%d", base, i), ".png")
		if err != nil {
			return out, err
		}
		f.Close()
		prefix := strings.TrimSuffix(target, ".png")

		args := buildPdftoppmArgs(pdfPath, prefix, dpi, i)
		res, err := p.runner.Run(ctx, p.pdftoppm, args...)
		if err != nil {
			os.Remove(target)
			return out, fmt.Errorf("pdftoppm page %d (exit %d): %w: %s", i, res.ExitCode, err, strings.TrimSpace(res.Stderr))
		}
		if info, err := os.Stat(target); err != nil || info.Size() == 0 {
			os.Remove(target)
			return out, fmt.Errorf("pdftoppm page %d produced no image", i)
		}
		out = append(out, target)
	}
	return out, nil
}

func (p *Poppler) pageCount(ctx context.Context, path string) (int, error) {
	n, err := p.countPages(path)
	if err == nil && n > 0 {
		return n, nil
	}
	if !p.fallbackPdfinfo {
		if err == nil {
			err = fmt.Errorf("pdf has no pages")
		}
		return 0, fmt.Errorf("open pdf: %w", err)
	}

	res, runErr := p.runner.Run(ctx, p.pdfinfo, path)
	if runErr != nil {
		return 0, fmt.Errorf("pdfinfo: %w: %s", runErr, strings.TrimSpace(res.Stderr))
	}
	return parsePdfinfoPages(res.Stdout)
}

// readPageCount opens the PDF with the pure-Go reader.
func readPageCount(path string) (n int, err error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return 0, err
	}
	if !mt.Is("application/pdf") {
		return 0, fmt.Errorf("content is %s, not a pdf", mt.String())
	}

	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	f, reader, err := pdflib.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return reader.NumPage(), nil
}

func parsePdfinfoPages(out string) (int, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok || strings.TrimSpace(key) != "Pages" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("pdfinfo: bad page count %q", value)
		}
		if n <= 0 {
			return 0, fmt.Errorf("pdf has no pages")
		}
		return n, nil
	}
	return 0, fmt.Errorf("pdfinfo: page count not found")
}

// buildPdftoppmArgs renders exactly one page to <prefix>.png.
func buildPdftoppmArgs(pdfPath, prefix string, dpi, page int) []string {
	return []string{
		"-r", strconv.Itoa(dpi),
		"-png",
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-singlefile",
		pdfPath,
		prefix,
	}
}
