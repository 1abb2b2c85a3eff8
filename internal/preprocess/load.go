package preprocess

import (
	"fmt"
	"image"
	"os"

	// Page files are PNG; the other decoders cover callers that hand in
	// original images directly.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/dgallion1/docscan/internal/stage"
)

// LoadImage decodes the page image at path. Decode failures are reported as
// preprocessing failures because the page cannot be prepared.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, stage.Wrap(stage.Preprocessing, path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, stage.Wrap(stage.Preprocessing, path, fmt.Errorf("decode image: %w", err))
	}
	return img, nil
}
