package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelanni/interviewer/internal/catalog"
	"github.com/pavelanni/interviewer/internal/llm"
	"github.com/pavelanni/interviewer/internal/model"
)

var testQuestions = []model.Question{
	{ID: "fe-1", Role: "Frontend Engineer", Type: "Technical", Question: "Explain the virtual DOM."},
	{ID: "be-1", Role: "Backend Engineer", Type: "Technical", Question: "How do you design an idempotent API?"},
	{ID: "any-1", Role: model.AnyRole, Type: "Behavioral", Question: "Tell me about a time you led a project."},
	{ID: "pm-1", Role: "Product Manager", Type: "Behavioral", Question: "How do you prioritize a roadmap?"},
}

type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	starts   int
	stops    int
	aborts   int
	active   bool
	// When non-nil, Start signals entered and blocks until gate is closed.
	entered chan struct{}
	gate    chan struct{}
}

var errDeviceBusy = errors.New("device busy")

func (r *fakeRecorder) Start(context.Context) error {
	r.mu.Lock()
	entered, gate := r.entered, r.gate
	r.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	if r.active {
		return errDeviceBusy
	}
	r.active = true
	r.starts++
	return nil
}

func (r *fakeRecorder) Stop() (model.AudioArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.active = false
	return model.AudioArtifact{Data: []byte("audio"), ContentType: model.ContentTypeWebM}, r.stopErr
}

func (r *fakeRecorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts++
	r.active = false
}

func (r *fakeRecorder) counts() (starts, stops, aborts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops, r.aborts
}

type fakeTranscriber struct {
	text    string
	err     error
	calls   atomic.Int32
	release chan struct{} // when non-nil, Transcribe blocks until closed
}

func (f *fakeTranscriber) Transcribe(context.Context, model.AudioArtifact) (string, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.text, f.err
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	reqs    []model.AnalyzeRequest
	fb      model.Feedback
	err     error
	release chan struct{} // when non-nil, Analyze blocks until closed
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req model.AnalyzeRequest) (model.Feedback, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return f.fb, f.err
}

func (f *fakeAnalyzer) requests() []model.AnalyzeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AnalyzeRequest(nil), f.reqs...)
}

type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

// logRecorder is a slog.Handler that keeps every message.
type logRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (h *logRecorder) Enabled(context.Context, slog.Level) bool { return true }
func (h *logRecorder) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *logRecorder) WithGroup(string) slog.Handler            { return h }
func (h *logRecorder) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	return nil
}

func (h *logRecorder) has(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

type harness struct {
	m           *Machine
	recorder    *fakeRecorder
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	tickers     chan *manualTicker
	logs        *logRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := catalog.New(testQuestions)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	h := &harness{
		recorder:    &fakeRecorder{},
		transcriber: &fakeTranscriber{text: "I led a project"},
		analyzer:    &fakeAnalyzer{fb: llm.CannedFeedback()},
		tickers:     make(chan *manualTicker, 8),
		logs:        &logRecorder{},
	}
	h.m, err = New(Options{
		Catalog:     cat,
		Recorder:    h.recorder,
		Transcriber: h.transcriber,
		Analyzer:    h.analyzer,
		NewTicker: func(time.Duration) Ticker {
			tk := &manualTicker{c: make(chan time.Time)}
			h.tickers <- tk
			return tk
		},
		Logger: slog.New(h.logs),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) practice(t *testing.T, questionID string) {
	t.Helper()
	if err := h.m.SelectQuestion(questionID); err != nil {
		t.Fatalf("SelectQuestion: %v", err)
	}
	if err := h.m.StartPractice(); err != nil {
		t.Fatalf("StartPractice: %v", err)
	}
}

func (h *harness) ticker(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-h.tickers:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("countdown ticker was not created")
		return nil
	}
}

func waitFor(t *testing.T, m *Machine, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := m.Snapshot()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot: %+v", what, s)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitStopped(t *testing.T, tk *manualTicker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !tk.stopped.Load() {
		if time.Now().After(deadline) {
			t.Fatal("countdown ticker not stopped")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewDefaults(t *testing.T) {
	h := newHarness(t)
	s := h.m.Snapshot()
	if s.Step != model.StepSelection || s.Role != "Frontend Engineer" || s.Type != model.AllTypes || s.TimeLimitSeconds != 60 {
		t.Errorf("unexpected defaults: %+v", s)
	}
	// Frontend Engineer sees its own question plus the Any Role one.
	if len(s.Questions) != 2 || s.Questions[0].ID != "fe-1" || s.Questions[1].ID != "any-1" {
		t.Errorf("Questions = %+v", s.Questions)
	}
	if _, err := New(Options{}); err == nil {
		t.Error("New without catalog should fail")
	}
}

func TestFilterChangeClearsSelection(t *testing.T) {
	h := newHarness(t)

	if err := h.m.SelectQuestion("be-1"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("selecting a non-matching question: err = %v", err)
	}
	if err := h.m.SelectQuestion("fe-1"); err != nil {
		t.Fatalf("SelectQuestion: %v", err)
	}

	if err := h.m.SelectRole("Backend Engineer"); err != nil {
		t.Fatalf("SelectRole: %v", err)
	}
	if s := h.m.Snapshot(); s.SelectedQuestion != nil {
		t.Fatalf("selection should be cleared, got %+v", s.SelectedQuestion)
	}
	// Repeating the same filter change is a no-op.
	if err := h.m.SelectRole("Backend Engineer"); err != nil {
		t.Fatalf("SelectRole: %v", err)
	}
	if s := h.m.Snapshot(); s.SelectedQuestion != nil {
		t.Fatal("selection reappeared")
	}

	if err := h.m.SelectQuestion("any-1"); err != nil {
		t.Fatalf("Any Role question should match every role: %v", err)
	}
	if err := h.m.SelectType("Behavioral"); err != nil {
		t.Fatalf("SelectType: %v", err)
	}
	if s := h.m.Snapshot(); s.SelectedQuestion == nil || s.SelectedQuestion.ID != "any-1" {
		t.Fatalf("matching selection should be kept, got %+v", s.SelectedQuestion)
	}
	if err := h.m.SelectType("Technical"); err != nil {
		t.Fatalf("SelectType: %v", err)
	}
	if s := h.m.Snapshot(); s.SelectedQuestion != nil {
		t.Fatal("type change should clear the selection")
	}
}

func TestSelectionValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"unknown role", func() error { return h.m.SelectRole("Astronaut") }},
		{"unknown type", func() error { return h.m.SelectType("Trivia") }},
		{"unknown question", func() error { return h.m.SelectQuestion("nope") }},
		{"bad time limit", func() error { return h.m.SetTimeLimit(45) }},
		{"no question selected", h.m.StartPractice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, model.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
	if s := h.m.Snapshot(); s.Step != model.StepSelection {
		t.Errorf("Step = %q", s.Step)
	}
}

func TestWrongStateTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inSelection := map[string]func() error{
		"StartCapture":      func() error { return h.m.StartCapture(ctx) },
		"StopCapture":       h.m.StopCapture,
		"SubmitForAnalysis": func() error { return h.m.SubmitForAnalysis("x") },
		"SetAnswer":         func() error { return h.m.SetAnswer("x") },
		"Cancel":            h.m.Cancel,
		"Reset":             h.m.Reset,
		"Retry":             h.m.Retry,
	}
	for name, fn := range inSelection {
		if err := fn(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s in Selection: err = %v", name, err)
		}
	}

	h.practice(t, "fe-1")
	inPractice := map[string]func() error{
		"SelectRole":     func() error { return h.m.SelectRole("Backend Engineer") },
		"SelectQuestion": func() error { return h.m.SelectQuestion("any-1") },
		"SetTimeLimit":   func() error { return h.m.SetTimeLimit(30) },
		"StartPractice":  h.m.StartPractice,
		"StopCapture":    h.m.StopCapture,
		"Reset":          h.m.Reset,
		"Retry":          h.m.Retry,
	}
	for name, fn := range inPractice {
		if err := fn(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s in Practice: err = %v", name, err)
		}
	}
	if !errors.Is(ErrInvalidTransition, model.ErrValidation) {
		t.Error("ErrInvalidTransition should be a validation error")
	}
}

func TestSubmitEmptyAnswerRejected(t *testing.T) {
	h := newHarness(t)
	h.practice(t, "fe-1")

	for _, text := range []string{"", "   ", "\n\t"} {
		if err := h.m.SubmitForAnalysis(text); !errors.Is(err, model.ErrValidation) {
			t.Errorf("SubmitForAnalysis(%q) = %v, want ErrValidation", text, err)
		}
	}
	if s := h.m.Snapshot(); s.Step != model.StepPractice || s.Loading {
		t.Errorf("state changed: %+v", s)
	}
	if n := len(h.analyzer.requests()); n != 0 {
		t.Errorf("analyzer called %d times", n)
	}
}

func TestCannedFeedbackScenario(t *testing.T) {
	cat, err := catalog.New(testQuestions)
	if err != nil {
		t.Fatal(err)
	}
	m, err := New(Options{
		Catalog:  cat,
		Analyzer: llm.New("", "", "", ""),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if err := m.SelectQuestion("fe-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.StartPractice(); err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitForAnalysis("I led a project"); err != nil {
		t.Fatalf("SubmitForAnalysis: %v", err)
	}
	if s := m.Snapshot(); s.Step != model.StepAnalysis {
		t.Fatalf("Step = %q, want analysis", s.Step)
	}

	s := waitFor(t, m, "feedback", func(s Snapshot) bool { return !s.Loading })
	want := model.Scores{Communication: 82, Structure: 75, Relevance: 88, Timing: 95}
	if s.Feedback == nil || s.Feedback.Scores != want {
		t.Fatalf("Feedback = %+v, want canned scores %+v", s.Feedback, want)
	}
	if s.Error != "" {
		t.Errorf("Error = %q", s.Error)
	}
}

func TestSubmitBuildsAnalyzeRequest(t *testing.T) {
	h := newHarness(t)
	if err := h.m.SetTimeLimit(120); err != nil {
		t.Fatal(err)
	}
	h.practice(t, "any-1")
	if err := h.m.SubmitForAnalysis("I led a project"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, h.m, "feedback", func(s Snapshot) bool { return s.Feedback != nil })

	reqs := h.analyzer.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests", len(reqs))
	}
	want := model.AnalyzeRequest{
		Question:      "Tell me about a time you led a project.",
		Answer:        "I led a project",
		Role:          "Frontend Engineer",
		TimeLimit:     120,
		RemainingTime: 120,
	}
	if reqs[0] != want {
		t.Errorf("request = %+v\nwant %+v", reqs[0], want)
	}
}

func TestCountdownStopsCaptureExactlyOnce(t *testing.T) {
	h := newHarness(t)
	if err := h.m.SetTimeLimit(30); err != nil {
		t.Fatal(err)
	}
	h.transcriber.err = &model.StatusError{Err: model.ErrTranscriptionFailed, Status: 502, Message: "bad gateway"}
	h.practice(t, "fe-1")

	if err := h.m.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	tk := h.ticker(t)

	for want := 29; want >= 0; want-- {
		tk.c <- time.Now()
		s := waitFor(t, h.m, "tick", func(s Snapshot) bool { return s.Attempt.RemainingSeconds == want })
		if want > 0 && s.Attempt.RecordingState != model.RecordingActive {
			t.Fatalf("remaining %d: recording state %q", want, s.Attempt.RecordingState)
		}
	}

	s := waitFor(t, h.m, "transcription failure", func(s Snapshot) bool {
		return s.Attempt.RecordingState == model.RecordingIdle
	})
	if s.Attempt.RemainingSeconds != 0 {
		t.Errorf("remaining = %d, want 0", s.Attempt.RemainingSeconds)
	}
	if _, stops, _ := h.recorder.counts(); stops != 1 {
		t.Errorf("recorder stopped %d times, want 1", stops)
	}
	waitStopped(t, tk)
	if s.Step != model.StepPractice {
		t.Errorf("expiry must not auto-submit past a failed transcription: step %q", s.Step)
	}
	if err := h.m.StartCapture(context.Background()); !errors.Is(err, model.ErrValidation) {
		t.Errorf("StartCapture with no time left: err = %v", err)
	}
}

func TestStopCaptureTranscribesAndSubmits(t *testing.T) {
	h := newHarness(t)
	h.practice(t, "fe-1")

	if err := h.m.StartCapture(context.Background()); err != nil {
		t.Fatal(err)
	}
	tk := h.ticker(t)
	tk.c <- time.Now()
	tk.c <- time.Now()
	waitFor(t, h.m, "two ticks", func(s Snapshot) bool { return s.Attempt.RemainingSeconds == 58 })

	if err := h.m.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	if err := h.m.StopCapture(); err == nil {
		t.Error("second StopCapture should fail")
	}

	s := waitFor(t, h.m, "feedback", func(s Snapshot) bool { return s.Feedback != nil })
	if s.Step != model.StepAnalysis || s.Attempt.AnswerText != "I led a project" {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	reqs := h.analyzer.requests()
	if len(reqs) != 1 || reqs[0].RemainingTime != 58 || reqs[0].Answer != "I led a project" {
		t.Errorf("requests = %+v", reqs)
	}
	if h.transcriber.calls.Load() != 1 {
		t.Errorf("transcriber calls = %d", h.transcriber.calls.Load())
	}
}

func TestTranscriptionFailureReturnsToPractice(t *testing.T) {
	h := newHarness(t)
	h.transcriber.err = &model.StatusError{Err: model.ErrTranscriptionFailed, Status: http.StatusUnauthorized, Message: "bad key"}
	h.practice(t, "fe-1")
	if err := h.m.SetAnswer("draft"); err != nil {
		t.Fatal(err)
	}

	if err := h.m.StartCapture(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.m.StopCapture(); err != nil {
		t.Fatal(err)
	}
	s := waitFor(t, h.m, "failure", func(s Snapshot) bool { return s.Error != "" })
	if s.Step != model.StepPractice || s.Loading || s.Attempt.RecordingState != model.RecordingIdle {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.ErrorKind != "transcription_failed" || !strings.Contains(s.Error, "bad key") {
		t.Errorf("Error = %q (%s)", s.Error, s.ErrorKind)
	}
	if s.Attempt.AnswerText != "draft" {
		t.Errorf("draft lost: %q", s.Attempt.AnswerText)
	}
	if n := len(h.analyzer.requests()); n != 0 {
		t.Errorf("analysis started after failed transcription")
	}

	// Text can still be submitted manually.
	if err := h.m.SubmitForAnalysis("typed answer"); err != nil {
		t.Fatalf("SubmitForAnalysis: %v", err)
	}
	waitFor(t, h.m, "feedback", func(s Snapshot) bool { return s.Feedback != nil && s.Error == "" })
}

func TestEmptyTranscriptKeepsDraft(t *testing.T) {
	h := newHarness(t)
	h.transcriber.text = "   "
	h.practice(t, "fe-1")
	if err := h.m.SetAnswer("my typed draft"); err != nil {
		t.Fatal(err)
	}

	if err := h.m.StartCapture(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.m.StopCapture(); err != nil {
		t.Fatal(err)
	}
	s := waitFor(t, h.m, "empty transcript", func(s Snapshot) bool { return s.Error != "" })
	if s.Step != model.StepPractice || s.Attempt.RecordingState != model.RecordingIdle {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.ErrorKind != "transcription_failed" {
		t.Errorf("ErrorKind = %q", s.ErrorKind)
	}
	if s.Attempt.AnswerText != "my typed draft" {
		t.Errorf("AnswerText = %q, want the draft", s.Attempt.AnswerText)
	}
	if n := len(h.analyzer.requests()); n != 0 {
		t.Errorf("blank transcript submitted for analysis")
	}
}

func TestDeviceUnavailable(t *testing.T) {
	h := newHarness(t)
	h.recorder.startErr = errors.New("permission denied")
	h.practice(t, "fe-1")

	err := h.m.StartCapture(context.Background())
	if !errors.Is(err, model.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	s := h.m.Snapshot()
	if s.Step != model.StepPractice || s.Attempt.RecordingState != model.RecordingIdle {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.ErrorKind != "device_unavailable" {
		t.Errorf("ErrorKind = %q", s.ErrorKind)
	}

	// The action stays retryable in place.
	h.recorder.mu.Lock()
	h.recorder.startErr = nil
	h.recorder.mu.Unlock()
	if err := h.m.StartCapture(context.Background()); err != nil {
		t.Fatalf("retry StartCapture: %v", err)
	}
	if s := h.m.Snapshot(); s.Error != "" {
		t.Errorf("error not cleared: %q", s.Error)
	}
}

func TestNoRecorderConfigured(t *testing.T) {
	cat, _ := catalog.New(testQuestions)
	m, _ := New(Options{Catalog: cat})
	defer m.Close()
	_ = m.SelectQuestion("fe-1")
	_ = m.StartPractice()
	if err := m.StartCapture(context.Background()); !errors.Is(err, model.ErrDeviceUnavailable) {
		t.Errorf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestAnalysisFailureYieldsDegradedFeedback(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fb = model.Feedback{}
	h.analyzer.err = errors.Join(model.ErrUpstreamUnavailable, errors.New("connection refused"))
	h.practice(t, "fe-1")

	if err := h.m.SubmitForAnalysis("I led a project"); err != nil {
		t.Fatal(err)
	}
	s := waitFor(t, h.m, "degraded feedback", func(s Snapshot) bool { return !s.Loading })
	if s.Step != model.StepAnalysis {
		t.Errorf("Step = %q, want analysis", s.Step)
	}
	if s.Feedback == nil || s.Feedback.Mistakes[0] != "AI Evaluation Error" || s.Feedback.Scores != (model.Scores{}) {
		t.Errorf("Feedback = %+v", s.Feedback)
	}
	if s.ErrorKind != "upstream_unavailable" {
		t.Errorf("ErrorKind = %q", s.ErrorKind)
	}
}

func TestStaleAnalysisDropped(t *testing.T) {
	h := newHarness(t)
	h.analyzer.release = make(chan struct{})
	h.practice(t, "fe-1")

	if err := h.m.SubmitForAnalysis("I led a project"); err != nil {
		t.Fatal(err)
	}
	if err := h.m.Reset(); err != nil {
		t.Fatalf("Reset while loading: %v", err)
	}
	close(h.analyzer.release)

	deadline := time.Now().Add(2 * time.Second)
	for !h.logs.has("dropping stale analysis") {
		if time.Now().After(deadline) {
			t.Fatal("stale analysis was not dropped")
		}
		time.Sleep(2 * time.Millisecond)
	}
	s := h.m.Snapshot()
	if s.Step != model.StepSelection || s.Feedback != nil || s.Attempt != nil || s.Loading {
		t.Errorf("stale result leaked into state: %+v", s)
	}
}

func TestStaleTranscriptionDropped(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
		log  string
	}{
		{"result", "I led a project", nil, "dropping stale transcription"},
		{"failure", "", &model.StatusError{Err: model.ErrTranscriptionFailed, Status: http.StatusBadGateway, Message: "bad gateway"}, "dropping stale transcription failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.transcriber.text = tt.text
			h.transcriber.err = tt.err
			h.transcriber.release = make(chan struct{})
			h.practice(t, "fe-1")

			if err := h.m.StartCapture(context.Background()); err != nil {
				t.Fatal(err)
			}
			if err := h.m.StopCapture(); err != nil {
				t.Fatal(err)
			}
			deadline := time.Now().Add(2 * time.Second)
			for h.transcriber.calls.Load() == 0 {
				if time.Now().After(deadline) {
					t.Fatal("transcription not started")
				}
				time.Sleep(2 * time.Millisecond)
			}
			if err := h.m.Cancel(); err != nil {
				t.Fatalf("Cancel while transcribing: %v", err)
			}
			close(h.transcriber.release)

			deadline = time.Now().Add(2 * time.Second)
			for !h.logs.has(tt.log) {
				if time.Now().After(deadline) {
					t.Fatalf("stale transcription was not dropped (%q)", tt.log)
				}
				time.Sleep(2 * time.Millisecond)
			}
			s := h.m.Snapshot()
			if s.Step != model.StepSelection || s.Attempt != nil || s.Loading || s.Error != "" {
				t.Errorf("stale result leaked into state: %+v", s)
			}
			if n := len(h.analyzer.requests()); n != 0 {
				t.Errorf("stale transcript submitted for analysis")
			}
		})
	}
}

func TestStopReleasesDeviceBeforeReturning(t *testing.T) {
	h := newHarness(t)
	h.transcriber.release = make(chan struct{})
	defer close(h.transcriber.release)
	h.practice(t, "fe-1")

	if err := h.m.StartCapture(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.m.StopCapture(); err != nil {
		t.Fatal(err)
	}
	if _, stops, _ := h.recorder.counts(); stops != 1 {
		t.Fatalf("recorder stopped %d times after StopCapture, want 1", stops)
	}

	// A new attempt can take the device while the old transcription is
	// still in flight.
	if err := h.m.Cancel(); err != nil {
		t.Fatal(err)
	}
	h.practice(t, "fe-1")
	if err := h.m.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture right after Stop and Cancel: %v", err)
	}
	if s := h.m.Snapshot(); s.Attempt.RecordingState != model.RecordingActive {
		t.Errorf("RecordingState = %q", s.Attempt.RecordingState)
	}
}

func TestStartCaptureDoesNotHoldLock(t *testing.T) {
	h := newHarness(t)
	h.recorder.entered = make(chan struct{}, 1)
	h.recorder.gate = make(chan struct{})
	h.practice(t, "fe-1")

	errc := make(chan error, 1)
	go func() { errc <- h.m.StartCapture(context.Background()) }()
	select {
	case <-h.recorder.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder Start not called")
	}

	snapped := make(chan Snapshot, 1)
	go func() { snapped <- h.m.Snapshot() }()
	select {
	case s := <-snapped:
		if s.Attempt.RecordingState != model.RecordingIdle {
			t.Errorf("RecordingState = %q while starting", s.Attempt.RecordingState)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Snapshot blocked while the recorder was starting")
	}

	if err := h.m.StartCapture(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second StartCapture while starting: err = %v", err)
	}
	if err := h.m.SubmitForAnalysis("typed"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SubmitForAnalysis while starting: err = %v", err)
	}
	if err := h.m.Cancel(); err != nil {
		t.Fatalf("Cancel while starting: %v", err)
	}
	close(h.recorder.gate)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("StartCapture for a cancelled attempt: err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartCapture did not return")
	}
	if starts, _, aborts := h.recorder.counts(); starts != 1 || aborts != 1 {
		t.Errorf("starts=%d aborts=%d, want the late device released", starts, aborts)
	}
	if s := h.m.Snapshot(); s.Step != model.StepSelection || s.Attempt != nil {
		t.Errorf("unexpected snapshot: %+v", s)
	}
}

func TestCancelReleasesRecorder(t *testing.T) {
	h := newHarness(t)
	h.practice(t, "fe-1")
	if err := h.m.StartCapture(context.Background()); err != nil {
		t.Fatal(err)
	}
	tk := h.ticker(t)

	if err := h.m.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, stops, aborts := h.recorder.counts(); aborts != 1 || stops != 0 {
		t.Errorf("stops=%d aborts=%d, want 0/1", stops, aborts)
	}
	waitStopped(t, tk)
	s := h.m.Snapshot()
	if s.Step != model.StepSelection || s.Attempt != nil {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.SelectedQuestion == nil || s.SelectedQuestion.ID != "fe-1" {
		t.Error("selection should survive a cancelled attempt")
	}
}

func TestRetryStartsFreshAttempt(t *testing.T) {
	h := newHarness(t)
	h.practice(t, "fe-1")
	first := h.m.Snapshot().Attempt.ID

	if err := h.m.SubmitForAnalysis("I led a project"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, h.m, "feedback", func(s Snapshot) bool { return s.Feedback != nil })

	if err := h.m.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	s := h.m.Snapshot()
	if s.Step != model.StepPractice || s.Feedback != nil {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.Attempt.ID == first || s.Attempt.Question.ID != "fe-1" {
		t.Errorf("attempt = %+v", s.Attempt)
	}
	if s.Attempt.AnswerText != "" || s.Attempt.RemainingSeconds != 60 {
		t.Errorf("attempt not reset: %+v", s.Attempt)
	}
}

func TestOnChangeVersions(t *testing.T) {
	cat, _ := catalog.New(testQuestions)
	var (
		mu       sync.Mutex
		versions []uint64
	)
	m, _ := New(Options{
		Catalog: cat,
		OnChange: func(s Snapshot) {
			mu.Lock()
			versions = append(versions, s.Version)
			mu.Unlock()
		},
	})
	defer m.Close()

	_ = m.SelectRole("Backend Engineer")
	_ = m.SelectQuestion("be-1")
	_ = m.SetTimeLimit(30)
	_ = m.StartPractice()
	_ = m.SelectRole("Product Manager") // rejected, no notification

	mu.Lock()
	defer mu.Unlock()
	if len(versions) != 4 {
		t.Fatalf("got %d notifications, want 4", len(versions))
	}
	for i, v := range versions {
		if v != uint64(i+1) {
			t.Errorf("versions = %v", versions)
			break
		}
	}
}

func TestClosedMachineIgnoresActions(t *testing.T) {
	h := newHarness(t)
	h.practice(t, "fe-1")
	if err := h.m.StartCapture(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.m.Close()

	if _, _, aborts := h.recorder.counts(); aborts != 1 {
		t.Errorf("Close did not release the recorder")
	}
	if err := h.m.SubmitForAnalysis("x"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("action after Close: err = %v", err)
	}
}
