// Package annotation implements the inline comment protocol used in
// annotated answers: flagged spans are followed by a marker of the form
// "[Comment: <text>]". Markers are never nested and their text contains no
// "]".
package annotation

import (
	"regexp"
	"strings"
)

const (
	markerPrefix = "[Comment: "
	markerSuffix = "]"
)

var markerRegex = regexp.MustCompile(`\[Comment: [^\]]+\]`)

// Span is one segment of an annotated answer. For comment spans Text holds
// the raw marker body, exactly as it appeared between the prefix and "]".
type Span struct {
	Text    string `json:"text"`
	Comment bool   `json:"comment"`
}

// Label returns the display text of a comment span.
func (s Span) Label() string {
	return strings.TrimSpace(s.Text)
}

// Split breaks text into alternating plain and comment spans. Empty plain
// spans are omitted. Join(Split(text)) == text for every input.
func Split(text string) []Span {
	if text == "" {
		return nil
	}
	var spans []Span
	last := 0
	for _, loc := range markerRegex.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			spans = append(spans, Span{Text: text[last:loc[0]]})
		}
		body := text[loc[0]+len(markerPrefix) : loc[1]-len(markerSuffix)]
		spans = append(spans, Span{Text: body, Comment: true})
		last = loc[1]
	}
	if last < len(text) {
		spans = append(spans, Span{Text: text[last:]})
	}
	return spans
}

// Join reassembles spans produced by Split.
func Join(spans []Span) string {
	var sb strings.Builder
	for _, s := range spans {
		if s.Comment {
			sb.WriteString(markerPrefix)
			sb.WriteString(s.Text)
			sb.WriteString(markerSuffix)
			continue
		}
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// Marker builds a well-formed marker for note. Any "]" is dropped so the
// marker cannot terminate early; an empty note yields "".
func Marker(note string) string {
	note = strings.TrimSpace(strings.ReplaceAll(note, markerSuffix, ""))
	if note == "" {
		return ""
	}
	return markerPrefix + note + markerSuffix
}

// Comments returns the labels of all comment spans in order.
func Comments(text string) []string {
	var out []string
	for _, s := range Split(text) {
		if s.Comment {
			out = append(out, s.Label())
		}
	}
	return out
}
