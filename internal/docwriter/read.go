package docwriter

import (
	"fmt"
	"os"
	"strings"

	"github.com/fumiama/go-docx"
)

// Paragraph is the flattened content of one body paragraph.
type Paragraph struct {
	Level       int // heading level, 0 for body text
	Text        string
	Highlighted []string
	PageBreak   bool
}

// Read loads a saved document back into paragraphs. It is used to verify
// artifacts and by tooling that inspects previous runs.
func Read(path string) ([]Paragraph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat docx: %w", err)
	}
	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
	}

	var out []Paragraph
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		out = append(out, readParagraph(para))
	}
	return out, nil
}

func readParagraph(para *docx.Paragraph) Paragraph {
	p := Paragraph{Level: headingLevel(para)}
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		red := run.RunProperties != nil && run.RunProperties.Color != nil &&
			strings.EqualFold(run.RunProperties.Color.Val, HighlightColor)
		for _, rc := range run.Children {
			switch t := rc.(type) {
			case *docx.Text:
				buf.WriteString(t.Text)
				if red {
					p.Highlighted = append(p.Highlighted, t.Text)
				}
			case *docx.Tab:
				buf.WriteByte('\t')
			case *docx.BarterRabbet:
				if t.Type == "page" {
					p.PageBreak = true
				} else {
					buf.WriteByte('\n')
				}
			}
		}
	}
	p.Text = buf.String()
	return p
}

func headingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if !strings.HasPrefix(style, "heading") {
		return 0
	}
	switch strings.TrimPrefix(style, "heading") {
	case "1":
		return 1
	case "2":
		return 2
	case "3":
		return 3
	case "4":
		return 4
	case "5":
		return 5
	case "6":
		return 6
	}
	return 0
}
