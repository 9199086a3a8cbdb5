package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/interviewer/internal/model"
)

// Templates holds the built-in feedback prompt templates.
//
//go:embed templates/*.txt
var Templates embed.FS

// SystemPrompt is sent as the system message of every feedback request.
const SystemPrompt = "Professional interview evaluator. Return ONLY JSON."

// maxAnswerRunes bounds the answer embedded in a prompt.
const maxAnswerRunes = 10000

var (
	answerTagRegex       = regexp.MustCompile(`(?i)</?\s*candidate-answer\b[^>]*>`)
	systemInstructionsRe = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant selects the coaching tone of the feedback prompt.
type PromptVariant string

const (
	// PromptStrict grades against a senior hiring bar.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default coaching tone.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is encouraging, for early practice.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// FeedbackData holds template data for feedback prompts.
type FeedbackData struct {
	Role          string
	Question      string
	TargetSeconds int
	ActualSeconds int
	Answer        string
}

// Load parses the prompt templates from fsys, which must contain
// templates/feedback_<variant>.txt for every variant. Only the first call
// has any effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[PromptVariant]*template.Template)
		for v := range validVariants {
			name := "templates/feedback_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + name + ": " + err.Error())
				return
			}
			tmpl, err := template.New(string(v)).Option("missingkey=error").Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + name + ": " + err.Error())
				return
			}
			templates[v] = tmpl
		}
	})
	return loadErr
}

// BuildFeedbackPrompt renders the feedback prompt for req using variant.
func BuildFeedbackPrompt(variant PromptVariant, req model.AnalyzeRequest) (string, error) {
	if templates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := FeedbackData{
		Role:          strings.TrimSpace(req.Role),
		Question:      strings.TrimSpace(req.Question),
		TargetSeconds: req.TimeLimit,
		ActualSeconds: req.ElapsedSeconds(),
		Answer:        sanitizeAnswer(req.Answer),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = answerTagRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRe.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return answer
}
