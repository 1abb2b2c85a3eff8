package docwriter

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgallion1/docscan/internal/stage"
)

const maxSaveAttempts = 1000

// Save writes doc into outputDir as desiredName, or as <stem>_<n><ext> when
// that name is taken or not writable. It returns the path actually written.
func Save(doc io.WriterTo, desiredName, outputDir string) (string, error) {
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", stage.Wrap(stage.Persist, outputDir, err)
	}

	ext := filepath.Ext(desiredName)
	stem := strings.TrimSuffix(desiredName, ext)

	for n := 0; n < maxSaveAttempts; n++ {
		name := desiredName
		if n > 0 {
			name = stem + "_" + strconv.Itoa(n) + ext
		}
		path := filepath.Join(outputDir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) || errors.Is(err, fs.ErrPermission) {
			continue
		}
		if err != nil {
			return "", stage.Wrap(stage.Persist, path, err)
		}

		if _, err := doc.WriteTo(f); err != nil {
			f.Close()
			os.Remove(path)
			return "", stage.Wrap(stage.Persist, path, fmt.Errorf("write document: %w", err))
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", stage.Wrap(stage.Persist, path, err)
		}
		return path, nil
	}
	return "", stage.Errorf(stage.Persist, filepath.Join(outputDir, desiredName),
		"no free name after %d attempts", maxSaveAttempts)
}
