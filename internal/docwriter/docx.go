// Package docwriter builds the transcript and hits documents and saves them
// without ever overwriting an existing file.
package docwriter

import (
	"io"
	"strconv"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/docscan/internal/match"
)

// HighlightColor is the run color used for matched keywords.
const HighlightColor = "FF0000"

// heading sizes in half-points, indexed by level-1.
var headingSizes = []int{32, 28, 26, 24}

// Document is an in-memory docx under construction.
type Document struct {
	doc        *docx.Docx
	paragraphs int
}

func New() *Document {
	return &Document{doc: docx.New().WithDefaultTheme()}
}

// AppendHeading adds a heading paragraph. Levels outside 1..4 are clamped.
func (d *Document) AppendHeading(text string, level int) {
	level = max(1, min(level, len(headingSizes)))
	p := d.doc.AddParagraph().Style("Heading" + strconv.Itoa(level))
	p.AddText(text).Bold().Size(strconv.Itoa(headingSizes[level-1]))
	d.paragraphs++
}

// AppendParagraph adds one paragraph. Each span is rendered as its own red
// run; spans must be ordered and non-overlapping, as returned by match.Spans.
func (d *Document) AppendParagraph(text string, spans []match.Span) {
	p := d.doc.AddParagraph()
	d.paragraphs++

	pos := 0
	for _, s := range spans {
		end := s.Start + s.Length
		if s.Start < pos || end > len(text) || s.Length <= 0 {
			continue
		}
		if s.Start > pos {
			p.AddText(text[pos:s.Start])
		}
		p.AddText(text[s.Start:end]).Color(HighlightColor)
		pos = end
	}
	if pos < len(text) || len(text) == 0 {
		p.AddText(text[pos:])
	}
}

// AddSectionBreak starts the following content on a new page.
func (d *Document) AddSectionBreak() {
	d.doc.AddParagraph().AddPageBreaks()
}

// Len is the number of heading and text paragraphs appended so far.
func (d *Document) Len() int { return d.paragraphs }

func (d *Document) WriteTo(w io.Writer) (int64, error) {
	return d.doc.WriteTo(w)
}
