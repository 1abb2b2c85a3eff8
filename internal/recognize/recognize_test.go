package recognize

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"os/exec"
	"testing"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dgallion1/docscan/internal/stage"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func textImage(s string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 240, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 45),
	}
	d.DrawString(s)
	return img
}

func TestTesseractRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	text, err := NewTesseract("", 0).Recognize(context.Background(), textImage("Invoice 1234"), "eng")
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if text == "" {
		t.Fatal("expected recognized text")
	}
}

func TestTesseractRecognize_UnknownLanguage(t *testing.T) {
	ensureTesseractAvailable(t)

	_, err := NewTesseract("", 0).Recognize(context.Background(), textImage("x"), "zz_no_such_lang")
	if !errors.Is(err, stage.ErrRecognition) {
		t.Fatalf("expected ErrRecognition, got %v", err)
	}
}

func TestTesseractRecognize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTesseract("", 0).Recognize(ctx, textImage("x"), "eng")
	if !errors.Is(err, stage.ErrRecognition) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled recognition error, got %v", err)
	}
}

type stubRecognizer struct {
	text string
	err  error
}

func (s stubRecognizer) Recognize(ctx context.Context, img image.Image, language string) (string, error) {
	return s.text, s.err
}

func TestTimedRecordsOutcome(t *testing.T) {
	stats := NewStats(time.Hour)
	ok := NewTimed(stubRecognizer{text: "hello"}, stats)
	bad := NewTimed(stubRecognizer{err: errors.New("boom")}, stats)

	if text, err := ok.Recognize(context.Background(), nil, "deu"); err != nil || text != "hello" {
		t.Fatalf("got %q, %v", text, err)
	}
	if _, err := bad.Recognize(context.Background(), nil, "deu"); err == nil {
		t.Fatal("expected error to pass through")
	}

	snap := stats.Snapshot()
	if snap.Calls != 2 {
		t.Fatalf("expected 2 calls, got %d", snap.Calls)
	}
	if snap.Failures != 1 {
		t.Fatalf("expected 1 failure, got %d", snap.Failures)
	}
}
