// Package report renders a feedback report for the terminal.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pavelanni/interviewer/internal/annotation"
	"github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/model"
)

// barWidth is the number of cells in a full score bar.
const barWidth = 20

// Bar draws score (0..100) as a fixed-width bar.
func Bar(score int) string {
	score = max(0, min(100, score))
	filled := (score*barWidth + 50) / 100
	return strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
}

// Annotate rewrites an annotated answer for a plain terminal: comment
// markers become numbered references and the notes are returned in order.
func Annotate(text string) (string, []string) {
	var (
		sb    strings.Builder
		notes []string
	)
	for _, s := range annotation.Split(text) {
		if !s.Comment {
			sb.WriteString(s.Text)
			continue
		}
		notes = append(notes, s.Label())
		fmt.Fprintf(&sb, "[%d]", len(notes))
	}
	return sb.String(), notes
}

// Render writes the feedback for question q to w using the localizer in
// ctx.
func Render(ctx context.Context, w io.Writer, q model.Question, fb model.Feedback) error {
	ew := &errWriter{w: w}
	t := func(id string) string { return i18n.T(ctx, id) }

	ew.printf("%s: %s\n\n", t("Question"), q.Question)

	overall := fb.Scores.Overall()
	ew.printf("%s: %d/100  (%s)\n", t("OverallScore"), overall,
		i18n.Td(ctx, "AboveAverage", map[string]any{"Percent": fb.Scores.AboveAverage()}))

	tw := tabwriter.NewWriter(ew, 0, 4, 2, ' ', 0)
	for _, row := range []struct {
		id    string
		score int
	}{
		{"Communication", fb.Scores.Communication},
		{"Structure", fb.Scores.Structure},
		{"Relevance", fb.Scores.Relevance},
		{"Timing", fb.Scores.Timing},
	} {
		fmt.Fprintf(tw, "  %s\t%s\t%3d\n", t(row.id), Bar(row.score), row.score)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(fb.Mistakes) > 0 {
		ew.printf("\n%s:\n", t("Mistakes"))
		for _, m := range fb.Mistakes {
			ew.printf("  - %s\n", m)
		}
	}

	if fb.AnnotatedAnswer != "" {
		text, notes := Annotate(fb.AnnotatedAnswer)
		ew.printf("\n%s:\n  %s\n", t("AnnotatedAnswer"), text)
		for i, n := range notes {
			ew.printf("  [%d] %s\n", i+1, n)
		}
	}

	if fb.Explanation != "" {
		ew.printf("\n%s:\n  %s\n", t("Explanation"), fb.Explanation)
	}
	if fb.SampleAnswer != "" {
		ew.printf("\n%s:\n  %s\n", t("SampleAnswer"), fb.SampleAnswer)
	}
	return ew.err
}

// errWriter keeps the first write error and drops later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}
