// Package session implements the practice-session lifecycle: choosing a
// question, answering it within a time limit by voice or text, and
// collecting feedback.
//
// A Machine moves through three steps, Selection, Practice and Analysis.
// Backward moves are Practice→Selection (Cancel), Analysis→Selection
// (Reset) and Analysis→Practice (Retry). Transcription and analysis run on
// their own goroutines; their results carry the attempt id they were
// started for and are dropped if that attempt is no longer current.
package session

import (
	"context"
	"time"

	"github.com/pavelanni/interviewer/internal/model"
)

// Recorder captures one answer at a time. *capture.Controller implements it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (model.AudioArtifact, error)
	Abort()
}

// Transcriber turns a recording into text. *stt.Client implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio model.AudioArtifact) (string, error)
}

// Analyzer turns an answer into feedback. *llm.Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalyzeRequest) (model.Feedback, error)
}

// Ticker delivers countdown ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default Options.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// AttemptSnapshot is the read-only view of the current practice attempt.
type AttemptSnapshot struct {
	ID               uint64               `json:"id"`
	Question         model.Question       `json:"question"`
	TimeLimitSeconds int                  `json:"timeLimitSeconds"`
	RemainingSeconds int                  `json:"remainingSeconds"`
	AnswerText       string               `json:"answerText"`
	RecordingState   model.RecordingState `json:"recordingState"`
}

// Snapshot is the read-only view of a Machine. Version increases with every
// change so observers can discard snapshots delivered out of order.
type Snapshot struct {
	Version          uint64           `json:"version"`
	Step             model.Step       `json:"step"`
	Role             string           `json:"role"`
	Type             string           `json:"type"`
	TimeLimitSeconds int              `json:"timeLimitSeconds"`
	SelectedQuestion *model.Question  `json:"selectedQuestion,omitempty"`
	Questions        []model.Question `json:"questions"`
	Attempt          *AttemptSnapshot `json:"attempt,omitempty"`
	Loading          bool             `json:"loading"`
	Feedback         *model.Feedback  `json:"feedback,omitempty"`
	Error            string           `json:"error,omitempty"`
	ErrorKind        string           `json:"errorKind,omitempty"`
}
