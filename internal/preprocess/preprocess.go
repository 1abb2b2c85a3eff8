// Package preprocess turns raw page images into recognition-ready images.
//
// Two enhancement pipelines are available and can be chained:
//
//   - Enhance: grayscale, contrast boost, sharpen, resize to a fixed width,
//     fixed-threshold binarization.
//   - Denoise: grayscale, median blur, Otsu binarization, morphological opening.
//
// Combined runs Enhance and feeds its output into Denoise.
package preprocess

import (
	"fmt"
	"image"
	"strings"

	"github.com/dgallion1/docscan/internal/stage"
)

// Strategy selects the enhancement pipeline applied before recognition.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyEnhance
	StrategyDenoise
	StrategyCombined
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyEnhance:
		return "enhance"
	case StrategyDenoise:
		return "denoise"
	case StrategyCombined:
		return "combined"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStrategy maps a configuration value onto a Strategy. The legacy names
// "pillow", "opencv" and "kombiniert" are accepted as aliases.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "keine":
		return StrategyNone, nil
	case "enhance", "pillow":
		return StrategyEnhance, nil
	case "denoise", "opencv":
		return StrategyDenoise, nil
	case "combined", "kombiniert":
		return StrategyCombined, nil
	default:
		return StrategyNone, fmt.Errorf("unknown preprocessing strategy: %q", s)
	}
}

// Options holds the fixed parameters of both pipelines.
type Options struct {
	Contrast     float64 // contrast factor for Enhance
	TargetWidth  int     // output width for Enhance, height keeps aspect ratio
	Threshold    uint8   // binarization threshold for Enhance
	MedianKernel int     // median blur window for Denoise (odd)
	OpenKernel   int     // structuring element size for Denoise opening
}

// DefaultOptions returns the stock parameters.
func DefaultOptions() Options {
	return Options{
		Contrast:     2.0,
		TargetWidth:  2000,
		Threshold:    128,
		MedianKernel: 3,
		OpenKernel:   1,
	}
}

// Preprocessor applies a Strategy with a fixed set of Options.
type Preprocessor struct {
	opts Options
}

// New returns a Preprocessor; zero-valued options fall back to defaults.
func New(opts Options) *Preprocessor {
	def := DefaultOptions()
	if opts.Contrast <= 0 {
		opts.Contrast = def.Contrast
	}
	if opts.TargetWidth <= 0 {
		opts.TargetWidth = def.TargetWidth
	}
	if opts.Threshold == 0 {
		opts.Threshold = def.Threshold
	}
	if opts.MedianKernel <= 0 || opts.MedianKernel%2 == 0 {
		opts.MedianKernel = def.MedianKernel
	}
	if opts.OpenKernel <= 0 {
		opts.OpenKernel = def.OpenKernel
	}
	return &Preprocessor{opts: opts}
}

// Options returns the effective parameters.
func (p *Preprocessor) Options() Options { return p.opts }

// Prepare runs strategy s on img. source names the page file for error
// reporting. Every failure wraps stage.ErrPreprocessing.
func (p *Preprocessor) Prepare(img image.Image, s Strategy, source string) (image.Image, error) {
	if img == nil {
		return nil, stage.Errorf(stage.Preprocessing, source, "no image data")
	}
	if isEmpty(img) {
		return nil, stage.Errorf(stage.Preprocessing, source, "input image is empty")
	}

	switch s {
	case StrategyNone:
		return img, nil
	case StrategyEnhance:
		return p.enhance(img, source)
	case StrategyDenoise:
		return p.denoise(toGray(img), source)
	case StrategyCombined:
		enhanced, err := p.enhance(img, source)
		if err != nil {
			return nil, err
		}
		return p.denoise(enhanced, source)
	default:
		return nil, stage.Errorf(stage.Preprocessing, source, "unsupported strategy %s", s)
	}
}

func (p *Preprocessor) enhance(img image.Image, source string) (*image.Gray, error) {
	g := toGray(img)
	g = adjustContrast(g, p.opts.Contrast)
	g = sharpen(g)
	g = resizeWidth(g, p.opts.TargetWidth)
	if isEmpty(g) {
		return nil, stage.Errorf(stage.Preprocessing, source, "image is empty after resize")
	}
	return threshold(g, p.opts.Threshold), nil
}

func (p *Preprocessor) denoise(g *image.Gray, source string) (*image.Gray, error) {
	g = medianBlur(g, p.opts.MedianKernel)
	g = threshold(g, otsuThreshold(g))
	g = open(g, p.opts.OpenKernel)
	if isEmpty(g) {
		return nil, stage.Errorf(stage.Preprocessing, source, "image is empty after denoise")
	}
	return g, nil
}

func isEmpty(img image.Image) bool {
	b := img.Bounds()
	return b.Dx() <= 0 || b.Dy() <= 0
}
