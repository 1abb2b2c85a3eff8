// Package recognize wraps the OCR engine behind an image + language → text
// contract.
package recognize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/dgallion1/docscan/internal/stage"
)

// Recognizer extracts plain, line-ordered text from one page image.
// Failures wrap stage.ErrRecognition.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, language string) (string, error)
}

// Tesseract recognizes text with a fresh gosseract client per call.
type Tesseract struct {
	tessdataPrefix string
	dpi            int
	clientFactory  func() *gosseract.Client
}

// NewTesseract returns a Tesseract engine. tessdataPrefix may be empty to use
// the library default; dpi is passed as a resolution hint when positive.
func NewTesseract(tessdataPrefix string, dpi int) *Tesseract {
	return &Tesseract{
		tessdataPrefix: tessdataPrefix,
		dpi:            dpi,
		clientFactory:  gosseract.NewClient,
	}
}

func (t *Tesseract) Recognize(ctx context.Context, img image.Image, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", stage.Wrap(stage.Recognition, "", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", stage.Wrap(stage.Recognition, "", fmt.Errorf("encode page: %w", err))
	}

	c := t.clientFactory()
	defer c.Close()

	if t.tessdataPrefix != "" {
		c.TessdataPrefix = t.tessdataPrefix
	}
	if lang := strings.TrimSpace(language); lang != "" {
		if err := c.SetLanguage(strings.Split(lang, "+")...); err != nil {
			return "", stage.Wrap(stage.Recognition, "", fmt.Errorf("set language: %w", err))
		}
	}
	if t.dpi > 0 {
		if err := c.SetVariable("user_defined_dpi", strconv.Itoa(t.dpi)); err != nil {
			return "", stage.Wrap(stage.Recognition, "", fmt.Errorf("set dpi: %w", err))
		}
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", stage.Wrap(stage.Recognition, "", fmt.Errorf("set image: %w", err))
	}
	text, err := c.Text()
	if err != nil {
		return "", stage.Wrap(stage.Recognition, "", fmt.Errorf("recognize text: %w", err))
	}
	return text, nil
}

// Timed records the latency and outcome of every call into Stats.
type Timed struct {
	next  Recognizer
	stats *Stats
}

func NewTimed(next Recognizer, stats *Stats) *Timed {
	return &Timed{next: next, stats: stats}
}

func (t *Timed) Recognize(ctx context.Context, img image.Image, language string) (string, error) {
	start := time.Now()
	text, err := t.next.Recognize(ctx, img, language)
	t.stats.Record(time.Since(start), err != nil)
	return text, err
}
