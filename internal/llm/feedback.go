package llm

import (
	"errors"

	"github.com/pavelanni/interviewer/internal/model"
)

// CannedFeedback is the deterministic report returned when no upstream
// credential is configured.
func CannedFeedback() model.Feedback {
	return model.Feedback{
		Mistakes: []string{
			"Usage of filler words (um, uh)",
			"Answer could be more structured using the STAR method",
		},
		AnnotatedAnswer: "I managed a team [Comment: Strong opening] to deliver a high-impact feature. " +
			"We [Comment: Use 'I' instead of 'We' here] completed it on time.",
		Explanation: "Overall, your response was relevant, but it lacked specific quantifiable " +
			"metrics and a clear conclusion.",
		SampleAnswer: "In my previous role, I led the redesign of our core dashboard. I identified " +
			"three bottlenecks, implemented a new caching layer, and reduced load times by 40% over two months.",
		Scores: model.Scores{Communication: 82, Structure: 75, Relevance: 88, Timing: 95},
	}
}

// Failure mode labels shown as the second mistake of a degraded report.
const (
	modeMalformed   = "Malformed Response"
	modeUnavailable = "Service Unavailable"
)

// Degraded builds the displayable report used when analysis fails. The
// mistakes list names the failure mode and every score is zero.
func Degraded(err error) model.Feedback {
	mode := modeUnavailable
	if errors.Is(err, model.ErrMalformedFeedback) {
		mode = modeMalformed
	}
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return model.Feedback{
		Mistakes:     []string{"AI Evaluation Error", mode},
		Explanation:  "Error during AI analysis: " + detail,
		SampleAnswer: "Please try again later or check your API configuration.",
	}
}
