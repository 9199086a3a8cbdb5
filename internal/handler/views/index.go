// Package views renders the HTML shell of the practice page.
package views

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/pavelanni/interviewer/internal/i18n"
)

var (
	//go:embed assets/app.js
	appJS string
	//go:embed assets/app.css
	appCSS string
)

// clientLabels are the messages the browser client needs at runtime.
var clientLabels = []string{
	"Record", "StopRecording", "Transcribing", "ErrorPrefix", "NoQuestions", "AboveAverage",
}

// IndexData is the input of IndexPage.
type IndexData struct {
	Lang          string
	Roles         []string
	Types         []string
	TimeLimits    []int
	QuestionCount int
	MockMode      bool
}

// IndexPage renders the single-page practice client. All dynamic state
// arrives over the session websocket.
func IndexPage(d IndexData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		t := func(id string) string { return templ.EscapeString(i18n.T(ctx, id)) }

		p.printf(`<!DOCTYPE html><html lang="%s"><head><meta charset="utf-8">`, templ.EscapeString(d.Lang))
		p.printf(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.printf(`<title>%s</title><style>%s</style></head><body>`, t("AppTitle"), appCSS)

		p.printf(`<header><h1>%s</h1><p>%s</p><p>%s</p></header>`,
			t("AppTitle"), t("AppTagline"),
			templ.EscapeString(i18n.Tp(ctx, "QuestionsAvailable", d.QuestionCount)))
		if d.MockMode {
			p.printf(`<p class="mock" data-mock="true">API key not configured: transcription and feedback are simulated.</p>`)
		}
		p.printf(`<p id="error" class="error" role="alert"></p>`)

		p.printf(`<section id="selection"><label for="role">%s</label><select id="role">`, t("Role"))
		for _, r := range d.Roles {
			p.option(r, r)
		}
		p.printf(`</select><label for="type">%s</label><select id="type">`, t("QuestionType"))
		for _, typ := range d.Types {
			p.option(typ, typ)
		}
		p.printf(`</select><label for="time-limit">%s</label><select id="time-limit">`, t("TimeLimit"))
		for _, s := range d.TimeLimits {
			p.option(strconv.Itoa(s), i18n.Tp(ctx, "Seconds", s))
		}
		p.printf(`</select><h2>%s</h2><ul id="questions" class="questions"></ul>`, t("SelectQuestion"))
		p.printf(`<button id="start" disabled>%s</button></section>`, t("StartPractice"))

		p.printf(`<section id="practice" hidden><h2>%s</h2><p id="practice-question"></p>`, t("Question"))
		p.printf(`<p>%s: <span id="timer" class="timer"></span></p>`, t("TimeRemaining"))
		p.printf(`<button id="record">%s</button>`, t("Record"))
		p.printf(`<label for="answer">%s</label><textarea id="answer" placeholder="%s"></textarea>`, t("YourAnswer"), t("AnswerPlaceholder"))
		p.printf(`<button id="submit">%s</button> <button id="cancel">%s</button></section>`, t("Submit"), t("Cancel"))

		p.printf(`<section id="analysis" hidden><h2>%s</h2><p id="analysis-question"></p>`, t("Feedback"))
		p.printf(`<p id="loading">%s</p><div id="report" hidden>`, t("Analyzing"))
		p.printf(`<p>%s: <strong id="overall"></strong> <span id="above-average"></span></p><div class="scores">`, t("OverallScore"))
		for _, s := range []struct{ id, label string }{
			{"communication", "Communication"}, {"structure", "Structure"},
			{"relevance", "Relevance"}, {"timing", "Timing"},
		} {
			p.printf(`<div>%s<br><strong id="score-%s"></strong></div>`, t(s.label), s.id)
		}
		p.printf(`</div><h3>%s</h3><ul id="mistakes"></ul>`, t("Mistakes"))
		p.printf(`<h3>%s</h3><p id="annotated"></p>`, t("AnnotatedAnswer"))
		p.printf(`<h3>%s</h3><p id="explanation"></p>`, t("Explanation"))
		p.printf(`<h3>%s</h3><p id="sample"></p></div>`, t("SampleAnswer"))
		p.printf(`<button id="retry">%s</button> <button id="reset">%s</button></section>`, t("TryAgain"), t("NewQuestion"))

		labels := make(map[string]string, len(clientLabels))
		for _, id := range clientLabels {
			labels[id] = i18n.T(ctx, id)
		}
		// encoding/json escapes <, > and & so the payload cannot close the tag.
		data, err := json.Marshal(labels)
		if err != nil {
			return err
		}
		p.printf(`<script id="labels" type="application/json">%s</script>`, data)
		p.printf(`<script>%s</script></body></html>`, appJS)
		return p.err
	})
}

// printer writes formatted HTML and keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) option(value, label string) {
	p.printf(`<option value="%s">%s</option>`, templ.EscapeString(value), templ.EscapeString(strings.TrimSpace(label)))
}
