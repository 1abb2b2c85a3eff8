package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docscan/internal/pages"
	"github.com/dgallion1/docscan/internal/preprocess"
)

// ErrInvalidJob is wrapped by every Job.Validate failure.
var ErrInvalidJob = errors.New("invalid job")

// TempDirName is the page scratch directory created below the output dir.
const TempDirName = "temp_png"

// Job is one immutable batch request.
type Job struct {
	Files          []string            `json:"files"`
	Keywords       []string            `json:"keywords"`
	Language       string              `json:"language"`
	Strategy       preprocess.Strategy `json:"strategy"`
	FullTranscript bool                `json:"full_transcript"`
	Highlight      bool                `json:"highlight"`
	OutputDir      string              `json:"output_dir"`
}

// Validate checks the preconditions a caller must meet before submitting.
func (j Job) Validate() error {
	if len(j.Files) == 0 {
		return fmt.Errorf("%w: no input files", ErrInvalidJob)
	}
	if len(j.Keywords) == 0 {
		return fmt.Errorf("%w: no keywords", ErrInvalidJob)
	}
	for _, kw := range j.Keywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("%w: blank keyword", ErrInvalidJob)
		}
		if kw != strings.ToLower(kw) {
			return fmt.Errorf("%w: keyword %q is not lowercase", ErrInvalidJob, kw)
		}
	}
	for _, f := range j.Files {
		if !pages.IsSupported(f) {
			return fmt.Errorf("%w: unsupported file type: %s", ErrInvalidJob, filepath.Base(f))
		}
	}
	return nil
}

// TempDir is where extracted pages live for the duration of a run.
func (j Job) TempDir() string {
	if j.OutputDir != "" {
		return filepath.Join(j.OutputDir, TempDirName)
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, TempDirName)
}

// Hit is one recognized line that contains at least one keyword.
type Hit struct {
	Source   string   `json:"source"`
	Page     int      `json:"page"`
	PageName string   `json:"page_name"`
	Keywords []string `json:"keywords"`
	Line     string   `json:"line"`
}

// String renders the hit the way it appears in the hits document.
func (h Hit) String() string {
	return fmt.Sprintf("%s: %s → %s", h.PageName, strings.Join(h.Keywords, ", "), h.Line)
}

// Status is the lifecycle state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// isValidTransition enforces idle → running → {completed, cancelled, failed}.
// A queued run may also fail directly, e.g. when the queue is full.
func isValidTransition(from, to Status) bool {
	switch from {
	case StatusIdle:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Result is the caller-visible outcome of one run.
type Result struct {
	Status      Status   `json:"status"`
	Transcripts []string `json:"transcripts"`
	HitsPath    string   `json:"hits_path,omitempty"`
	Hits        int      `json:"hits"`
	Pages       int      `json:"pages_processed"`
	Failures    []string `json:"failures"`
	Err         error    `json:"-"`
}

// Artifacts lists every persisted document, transcripts first.
func (r Result) Artifacts() []string {
	out := append([]string(nil), r.Transcripts...)
	if r.HitsPath != "" {
		out = append(out, r.HitsPath)
	}
	return out
}

// Observer receives human-readable status lines and a non-decreasing
// progress percentage while a run executes.
type Observer interface {
	Status(msg string)
	Progress(percent int)
}

type nopObserver struct{}

func (nopObserver) Status(string) {}
func (nopObserver) Progress(int)  {}
