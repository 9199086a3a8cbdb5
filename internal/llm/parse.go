package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/pavelanni/interviewer/internal/model"
)

// ExtractJSONObject returns the first balanced top-level {...} substring of
// text. Braces inside JSON string literals are ignored. It reports false when
// no opening brace exists or the first object never closes.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// wireFeedback mirrors model.Feedback with pointers so missing required
// fields can be told apart from zero values.
type wireFeedback struct {
	Mistakes        *[]string   `json:"mistakes"`
	AnnotatedAnswer string      `json:"annotatedAnswer"`
	Explanation     *string     `json:"explanation"`
	SampleAnswer    string      `json:"sampleAnswer"`
	Scores          *wireScores `json:"scores"`
}

type wireScores struct {
	Communication *float64 `json:"communication"`
	Structure     *float64 `json:"structure"`
	Relevance     *float64 `json:"relevance"`
	Timing        *float64 `json:"timing"`
}

// ParseFeedback extracts and validates a feedback report from free-form
// model output. Both the bare report object and a {"feedback": {...}}
// envelope are accepted. Every failure wraps model.ErrMalformedFeedback.
func ParseFeedback(text string) (model.Feedback, error) {
	obj, ok := ExtractJSONObject(text)
	if !ok {
		return model.Feedback{}, fmt.Errorf("%w: no JSON object in response", model.ErrMalformedFeedback)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &top); err != nil {
		return model.Feedback{}, fmt.Errorf("%w: %v", model.ErrMalformedFeedback, err)
	}
	body := []byte(obj)
	if inner, ok := top["feedback"]; ok {
		body = inner
	}

	var w wireFeedback
	if err := json.Unmarshal(body, &w); err != nil {
		return model.Feedback{}, fmt.Errorf("%w: %v", model.ErrMalformedFeedback, err)
	}

	var missing []string
	if w.Mistakes == nil {
		missing = append(missing, "mistakes")
	}
	if w.Explanation == nil {
		missing = append(missing, "explanation")
	}
	if w.Scores == nil {
		missing = append(missing, "scores")
	} else {
		for name, v := range map[string]*float64{
			"communication": w.Scores.Communication,
			"structure":     w.Scores.Structure,
			"relevance":     w.Scores.Relevance,
			"timing":        w.Scores.Timing,
		} {
			if v == nil {
				missing = append(missing, "scores."+name)
			}
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return model.Feedback{}, fmt.Errorf("%w: missing %s", model.ErrMalformedFeedback, strings.Join(missing, ", "))
	}

	mistakes := *w.Mistakes
	if mistakes == nil {
		mistakes = []string{}
	}
	return model.Feedback{
		Mistakes:        mistakes,
		AnnotatedAnswer: w.AnnotatedAnswer,
		Explanation:     *w.Explanation,
		SampleAnswer:    w.SampleAnswer,
		Scores: model.Scores{
			Communication: clampScore(*w.Scores.Communication),
			Structure:     clampScore(*w.Scores.Structure),
			Relevance:     clampScore(*w.Scores.Relevance),
			Timing:        clampScore(*w.Scores.Timing),
		},
	}, nil
}

func clampScore(v float64) int {
	r := math.Round(v)
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	}
	return int(r)
}
