package stage

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestError_IsMatchesOwnSentinel(t *testing.T) {
	err := Wrap(Preprocessing, "/tmp/a.png", errors.New("empty image"))
	if !errors.Is(err, ErrPreprocessing) {
		t.Fatalf("expected %v to match ErrPreprocessing", err)
	}
	if errors.Is(err, ErrRecognition) {
		t.Fatalf("did not expect %v to match ErrRecognition", err)
	}
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	err := Wrap(Persist, "/out/x.docx", os.ErrPermission)
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected cause to be reachable, got %v", err)
	}
	wrapped := fmt.Errorf("save: %w", err)
	s, ok := Of(wrapped)
	if !ok || s != Persist {
		t.Fatalf("Of() = %q, %v; want %q, true", s, ok, Persist)
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(Extraction, "a.pdf", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestError_Message(t *testing.T) {
	err := Errorf(Extraction, "scan.pdf", "page %d missing", 3)
	want := "extraction: scan.pdf: page 3 missing"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
