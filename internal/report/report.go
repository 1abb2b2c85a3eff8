// Package report renders a human-readable summary of a run as Markdown and
// HTML.
package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/dgallion1/docscan/internal/pipeline"
)

// Markdown summarizes snap and lists hits verbatim, one list item each.
func Markdown(snap pipeline.RunSnapshot, hits []string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# OCR Lauf %s\n\n", escape(snap.ID))
	fmt.Fprintf(&b, "- Status: %s\n", snap.Status)
	fmt.Fprintf(&b, "- Fortschritt: %d%%\n", snap.Progress)
	fmt.Fprintf(&b, "- Dateien: %d\n", snap.Files)
	if snap.Error != "" {
		fmt.Fprintf(&b, "- Fehler: %s\n", escape(snap.Error))
	}

	res := snap.Result
	if res == nil {
		return b.Bytes()
	}
	fmt.Fprintf(&b, "- Seiten: %d\n", res.Pages)
	fmt.Fprintf(&b, "- Treffer: %d\n", res.Hits)

	if docs := res.Artifacts(); len(docs) > 0 {
		b.WriteString("\n## Dokumente\n\n")
		for _, d := range docs {
			fmt.Fprintf(&b, "- %s\n", escape(filepath.Base(d)))
		}
	}
	if len(hits) > 0 {
		b.WriteString("\n## Treffer\n\n")
		for _, h := range hits {
			fmt.Fprintf(&b, "- %s\n", escape(h))
		}
	}
	if len(res.Failures) > 0 {
		b.WriteString("\n## Übersprungen\n\n")
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "- %s\n", escape(f))
		}
	}
	return b.Bytes()
}

// HTML converts Markdown output to an HTML fragment.
func HTML(md []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.New().Convert(md, &buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// escape backslash-escapes Markdown punctuation so recognized text renders
// literally. Newlines collapse to spaces to keep one item per line.
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteByte(' ')
		case strings.ContainsRune("\\`*_{}[]()<>#+-.!|~&", r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
