package pipeline

import (
	"path/filepath"

	"github.com/dgallion1/docscan/internal/docwriter"
	"github.com/dgallion1/docscan/internal/match"
)

type blockKind int

const (
	blockHeading blockKind = iota
	blockBreak
	blockLine
)

type block struct {
	kind  blockKind
	text  string
	spans []match.Span
}

// Transcript is the full recognized text of a run segment, rendered into one
// ocr_ausgabe_<n>.docx document.
type Transcript struct {
	blocks []block
	pages  int
}

func (t *Transcript) Empty() bool { return len(t.blocks) == 0 }

// Pages is the number of pages whose text went into the transcript.
func (t *Transcript) Pages() int { return t.pages }

// Document renders the transcript.
func (t *Transcript) Document() *docwriter.Document {
	doc := docwriter.New()
	for _, b := range t.blocks {
		switch b.kind {
		case blockHeading:
			doc.AppendHeading(b.text, 1)
		case blockBreak:
			doc.AddSectionBreak()
		case blockLine:
			doc.AppendParagraph(b.text, b.spans)
		}
	}
	return doc
}

// transcriptSet accumulates page text into transcripts, starting a new one at
// a file boundary once the current transcript holds maxPages pages.
type transcriptSet struct {
	list     []*Transcript
	maxPages int
	lastFile int
}

func newTranscriptSet(maxPages int) *transcriptSet {
	return &transcriptSet{maxPages: maxPages, lastFile: -1}
}

// addPage appends one page of the fileIdx-th input file.
func (s *transcriptSet) addPage(fileIdx int, source string, lines, keywords []string, highlight bool) {
	cur := s.current()
	if fileIdx != s.lastFile {
		if !cur.Empty() && s.maxPages > 0 && cur.pages >= s.maxPages {
			cur = &Transcript{}
			s.list = append(s.list, cur)
		}
		if !cur.Empty() {
			cur.blocks = append(cur.blocks, block{kind: blockBreak})
		}
		cur.blocks = append(cur.blocks, block{kind: blockHeading, text: filepath.Base(source)})
		s.lastFile = fileIdx
	}
	for _, line := range lines {
		b := block{kind: blockLine, text: line}
		if highlight {
			b.spans = match.Spans(line, keywords)
		}
		cur.blocks = append(cur.blocks, b)
	}
	cur.pages++
}

func (s *transcriptSet) current() *Transcript {
	if len(s.list) == 0 {
		s.list = append(s.list, &Transcript{})
	}
	return s.list[len(s.list)-1]
}

// hitsDocument renders the consolidated hits list.
func hitsDocument(hits []Hit) *docwriter.Document {
	doc := docwriter.New()
	doc.AppendHeading("OCR Treffer", 1)
	for _, h := range hits {
		doc.AppendParagraph(h.String(), nil)
	}
	return doc
}
