// Package match holds the text utilities applied to recognized lines:
// normalization, keyword containment and highlight spans.
package match

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Span marks one keyword occurrence inside a line. Offsets are byte offsets
// into the original line.
type Span struct {
	Start   int
	Length  int
	Keyword string
}

// NormalizeLine trims surrounding whitespace and replaces tabs with spaces.
func NormalizeLine(line string) string {
	return strings.ReplaceAll(strings.TrimSpace(line), "\t", " ")
}

// FindMatches returns the keywords that occur in line, case-insensitively,
// in the order given by keywords and without duplicates.
func FindMatches(line string, keywords []string) []string {
	lower := strings.ToLower(line)
	var out []string
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" || !strings.Contains(lower, kw) {
			continue
		}
		if contains(out, kw) {
			continue
		}
		out = append(out, kw)
	}
	return out
}

// NormalizeKeywords lowercases and trims raw keywords, drops blanks and
// duplicates, and keeps first-seen order.
func NormalizeKeywords(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || contains(out, kw) {
			continue
		}
		out = append(out, kw)
	}
	return out
}

// Spans returns every non-overlapping keyword occurrence in line ordered by
// start offset. Overlaps resolve to the earliest start, then the longest
// keyword.
func Spans(line string, keywords []string) []Span {
	lower := strings.ToLower(line)
	if len(lower) != len(line) {
		// Case folding changed byte lengths; offsets into lower would not map
		// back onto line, so fall back to a rune-safe search.
		return spansFold(line, keywords)
	}

	var all []Span
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		for from := 0; from < len(lower); {
			i := strings.Index(lower[from:], kw)
			if i < 0 {
				break
			}
			all = append(all, Span{Start: from + i, Length: len(kw), Keyword: kw})
			from += i + 1
		}
	}
	return resolve(all)
}

func spansFold(line string, keywords []string) []Span {
	var all []Span
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		n := utf8.RuneCountInString(kw)
		for start := range line {
			end, count := start, 0
			for end < len(line) && count < n {
				_, size := utf8.DecodeRuneInString(line[end:])
				end += size
				count++
			}
			if count < n {
				break
			}
			if strings.EqualFold(line[start:end], kw) {
				all = append(all, Span{Start: start, Length: end - start, Keyword: kw})
			}
		}
	}
	return resolve(all)
}

func resolve(all []Span) []Span {
	if len(all) == 0 {
		return nil
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].Length > all[j].Length
	})
	out := make([]Span, 0, len(all))
	end := -1
	for _, s := range all {
		if s.Start < end {
			continue
		}
		out = append(out, s)
		end = s.Start + s.Length
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
