package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/interviewer/internal/catalog"
	"github.com/pavelanni/interviewer/internal/llm"
	"github.com/pavelanni/interviewer/internal/model"
)

// ErrInvalidTransition is returned when an action is not allowed in the
// current step or recording state. It wraps model.ErrValidation.
var ErrInvalidTransition = fmt.Errorf("%w: action not allowed in current state", model.ErrValidation)

// Options configures a Machine.
type Options struct {
	// Catalog is required.
	Catalog *catalog.Catalog
	// Recorder is optional; without one voice capture is unavailable.
	Recorder    Recorder
	Transcriber Transcriber
	Analyzer    Analyzer
	// NewTicker builds the once-per-second countdown ticker. Tests replace
	// it to drive the countdown by hand.
	NewTicker func(time.Duration) Ticker
	// RequestTimeout bounds each transcription and analysis call. Zero
	// means no limit.
	RequestTimeout time.Duration
	// OnChange receives a snapshot after every change, outside the lock.
	OnChange func(Snapshot)
	Logger   *slog.Logger
}

type attempt struct {
	id        uint64
	question  model.Question
	timeLimit int
	remaining int
	answer    string
	recording model.RecordingState
	starting  bool          // Recorder.Start in flight
	stopTick  chan struct{} // closed to end the countdown goroutine
}

// Machine is the practice-session state machine. It is safe for concurrent
// use.
type Machine struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	version   uint64
	step      model.Step
	role      string
	typ       string
	timeLimit int
	selected  *model.Question
	attempt   *attempt
	loading   bool
	feedback  *model.Feedback
	lastErr   error
	nextID    uint64
	closed    bool
	// device is closed once the last Recorder Start, Stop or Abort has
	// returned. A new capture waits on it before acquiring the recorder.
	device chan struct{}
}

// New returns a Machine in the Selection step with default filters.
func New(opts Options) (*Machine, error) {
	if opts.Catalog == nil {
		return nil, errors.New("session: catalog is required")
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTimeTicker
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Machine{
		opts:      opts,
		log:       opts.Logger,
		step:      model.StepSelection,
		role:      model.DefaultRole,
		typ:       model.DefaultType,
		timeLimit: model.DefaultTimeLimit,
	}, nil
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		Version:          m.version,
		Step:             m.step,
		Role:             m.role,
		Type:             m.typ,
		TimeLimitSeconds: m.timeLimit,
		Questions:        m.opts.Catalog.Filter(m.role, m.typ),
		Loading:          m.loading,
	}
	if m.selected != nil {
		q := *m.selected
		s.SelectedQuestion = &q
	}
	if a := m.attempt; a != nil {
		s.Attempt = &AttemptSnapshot{
			ID:               a.id,
			Question:         a.question,
			TimeLimitSeconds: a.timeLimit,
			RemainingSeconds: a.remaining,
			AnswerText:       a.answer,
			RecordingState:   a.recording,
		}
	}
	if m.feedback != nil {
		fb := *m.feedback
		fb.Mistakes = append([]string(nil), fb.Mistakes...)
		s.Feedback = &fb
	}
	if m.lastErr != nil {
		s.Error = m.lastErr.Error()
		s.ErrorKind = model.ErrorKind(m.lastErr)
	}
	return s
}

// commit bumps the version, releases the lock and notifies the observer.
// Callers hold m.mu and must not unlock it themselves.
func (m *Machine) commit() {
	m.version++
	snap := m.snapshotLocked()
	m.mu.Unlock()
	if m.opts.OnChange != nil {
		m.opts.OnChange(snap)
	}
}

// fail records err for the snapshot and returns it. Callers hold m.mu.
func (m *Machine) fail(err error) error {
	m.lastErr = err
	m.commit()
	return err
}

func (m *Machine) requireStep(step model.Step) error {
	if m.closed || m.step != step {
		return ErrInvalidTransition
	}
	return nil
}

// SelectRole changes the role filter, clearing the selected question if it
// no longer matches.
func (m *Machine) SelectRole(role string) error {
	m.mu.Lock()
	if err := m.requireStep(model.StepSelection); err != nil {
		m.mu.Unlock()
		return err
	}
	if !model.IsValidRole(role) {
		m.mu.Unlock()
		return model.Validationf("unknown role %q", role)
	}
	m.role = role
	m.revalidateSelectionLocked()
	m.commit()
	return nil
}

// SelectType changes the question type filter, clearing the selected
// question if it no longer matches.
func (m *Machine) SelectType(typ string) error {
	m.mu.Lock()
	if err := m.requireStep(model.StepSelection); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.opts.Catalog.IsValidType(typ) {
		m.mu.Unlock()
		return model.Validationf("unknown question type %q", typ)
	}
	m.typ = typ
	m.revalidateSelectionLocked()
	m.commit()
	return nil
}

func (m *Machine) revalidateSelectionLocked() {
	if m.selected != nil && !m.selected.Matches(m.role, m.typ) {
		m.selected = nil
	}
	m.lastErr = nil
}

// SelectQuestion selects the question with the given id, which must pass the
// current filters.
func (m *Machine) SelectQuestion(id string) error {
	m.mu.Lock()
	if err := m.requireStep(model.StepSelection); err != nil {
		m.mu.Unlock()
		return err
	}
	q, ok := m.opts.Catalog.Get(id)
	if !ok {
		m.mu.Unlock()
		return model.Validationf("unknown question %q", id)
	}
	if !q.Matches(m.role, m.typ) {
		m.mu.Unlock()
		return model.Validationf("question %q does not match role %q and type %q", id, m.role, m.typ)
	}
	m.selected = &q
	m.lastErr = nil
	m.commit()
	return nil
}

// SetTimeLimit sets the answer time limit for the next attempt.
func (m *Machine) SetTimeLimit(seconds int) error {
	m.mu.Lock()
	if err := m.requireStep(model.StepSelection); err != nil {
		m.mu.Unlock()
		return err
	}
	if !model.IsValidTimeLimit(seconds) {
		m.mu.Unlock()
		return model.Validationf("unsupported time limit %d", seconds)
	}
	m.timeLimit = seconds
	m.commit()
	return nil
}

// StartPractice begins a fresh attempt on the selected question.
func (m *Machine) StartPractice() error {
	m.mu.Lock()
	if err := m.requireStep(model.StepSelection); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.selected == nil {
		m.mu.Unlock()
		return model.Validationf("no question selected")
	}
	m.newAttemptLocked(*m.selected)
	m.commit()
	return nil
}

func (m *Machine) newAttemptLocked(q model.Question) {
	m.nextID++
	m.attempt = &attempt{
		id:        m.nextID,
		question:  q,
		timeLimit: m.timeLimit,
		remaining: m.timeLimit,
		recording: model.RecordingIdle,
	}
	m.step = model.StepPractice
	m.loading = false
	m.feedback = nil
	m.lastErr = nil
}

// SetAnswer replaces the drafted answer text of the current attempt.
func (m *Machine) SetAnswer(text string) error {
	m.mu.Lock()
	if err := m.requireStep(model.StepPractice); err != nil {
		m.mu.Unlock()
		return err
	}
	m.attempt.answer = text
	m.commit()
	return nil
}

// StartCapture acquires the recorder and starts the countdown. Device
// failures wrap model.ErrDeviceUnavailable and leave the attempt idle. The
// recorder is acquired without holding the machine lock; if the attempt is
// abandoned meanwhile the device is released again.
func (m *Machine) StartCapture(ctx context.Context) error {
	m.mu.Lock()
	if err := m.requireStep(model.StepPractice); err != nil {
		m.mu.Unlock()
		return err
	}
	a := m.attempt
	if a.recording != model.RecordingIdle || a.starting {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	if a.remaining <= 0 {
		m.mu.Unlock()
		return model.Validationf("no time remaining")
	}
	if m.opts.Recorder == nil {
		return m.fail(fmt.Errorf("%w: voice capture is not configured", model.ErrDeviceUnavailable))
	}
	a.starting = true
	id := a.id
	prev, done := m.claimDeviceLocked()
	m.mu.Unlock()

	err := m.acquire(ctx, prev)

	m.mu.Lock()
	a = m.attempt
	if m.closed || m.step != model.StepPractice || a == nil || a.id != id {
		m.mu.Unlock()
		if err == nil {
			m.opts.Recorder.Abort()
		}
		close(done)
		m.log.Debug("capture started for an abandoned attempt", "attempt", id)
		return ErrInvalidTransition
	}
	close(done)
	a.starting = false
	if err != nil {
		if !errors.Is(err, model.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrDeviceUnavailable, err)
		}
		return m.fail(err)
	}

	a.recording = model.RecordingActive
	a.stopTick = make(chan struct{})
	m.lastErr = nil
	go m.countdown(a.id, m.opts.NewTicker(time.Second), a.stopTick)
	m.commit()
	return nil
}

// claimDeviceLocked registers a new recorder operation. It returns the
// channel of the previous operation and the one to close when this one is
// done.
func (m *Machine) claimDeviceLocked() (prev <-chan struct{}, done chan struct{}) {
	prev = m.device
	done = make(chan struct{})
	m.device = done
	return prev, done
}

// acquire waits for the previous recorder operation and starts the recorder.
// Stop and Abort are bounded by the capture source, so the wait is too.
func (m *Machine) acquire(ctx context.Context, prev <-chan struct{}) error {
	if prev != nil {
		<-prev
	}
	return m.opts.Recorder.Start(ctx)
}

func (m *Machine) countdown(id uint64, t Ticker, stop <-chan struct{}) {
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if !m.tick(id) {
				return
			}
		}
	}
}

// tick decrements the remaining time of attempt id. It reports whether the
// countdown should continue.
func (m *Machine) tick(id uint64) bool {
	m.mu.Lock()
	a := m.attempt
	if m.closed || a == nil || a.id != id || a.recording != model.RecordingActive {
		m.mu.Unlock()
		return false
	}
	a.remaining--
	if a.remaining <= 0 {
		a.remaining = 0
		m.log.Debug("answer time limit reached", "attempt", id)
		release := m.beginStopLocked(a)
		m.commit()
		release()
		return false
	}
	m.commit()
	return true
}

// StopCapture releases the recorder and hands the recording to
// transcription. The device is free when StopCapture returns. On success the
// transcript becomes the answer and is submitted for analysis.
func (m *Machine) StopCapture() error {
	m.mu.Lock()
	if err := m.requireStep(model.StepPractice); err != nil {
		m.mu.Unlock()
		return err
	}
	a := m.attempt
	if a.recording != model.RecordingActive {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	release := m.beginStopLocked(a)
	m.commit()
	release()
	return nil
}

// beginStopLocked is the single stop path shared by StopCapture and the
// countdown reaching zero. The returned func stops the recorder and starts
// transcription; callers run it after commit, outside the lock.
func (m *Machine) beginStopLocked(a *attempt) func() {
	a.recording = model.RecordingTranscribing
	if a.stopTick != nil {
		close(a.stopTick)
		a.stopTick = nil
	}
	id := a.id
	_, done := m.claimDeviceLocked()
	return func() {
		audio, err := m.opts.Recorder.Stop()
		close(done)
		go m.transcribe(id, audio, err)
	}
}

func (m *Machine) requestContext() (context.Context, context.CancelFunc) {
	if m.opts.RequestTimeout > 0 {
		return context.WithTimeout(context.Background(), m.opts.RequestTimeout)
	}
	return context.WithCancel(context.Background())
}

func (m *Machine) transcribe(id uint64, audio model.AudioArtifact, err error) {
	if err == nil {
		if m.opts.Transcriber == nil {
			err = fmt.Errorf("%w: transcription is not configured", model.ErrUpstreamUnavailable)
		} else {
			ctx, cancel := m.requestContext()
			var text string
			text, err = m.opts.Transcriber.Transcribe(ctx, audio)
			cancel()
			if err == nil {
				m.transcribed(id, text)
				return
			}
		}
	}

	m.mu.Lock()
	a := m.attempt
	if m.closed || m.step != model.StepPractice || a == nil || a.id != id || a.recording != model.RecordingTranscribing {
		m.mu.Unlock()
		m.log.Debug("dropping stale transcription failure", "attempt", id, "error", err)
		return
	}
	m.log.Warn("transcription failed", "attempt", id, "kind", model.ErrorKind(err), "error", err)
	a.recording = model.RecordingIdle
	m.loading = false
	_ = m.fail(err)
}

func (m *Machine) transcribed(id uint64, text string) {
	m.mu.Lock()
	a := m.attempt
	if m.closed || m.step != model.StepPractice || a == nil || a.id != id || a.recording != model.RecordingTranscribing {
		m.mu.Unlock()
		m.log.Debug("dropping stale transcription", "attempt", id)
		return
	}
	a.recording = model.RecordingIdle
	if strings.TrimSpace(text) == "" {
		// The drafted answer stays in place for manual entry.
		_ = m.fail(fmt.Errorf("%w: empty transcript", model.ErrTranscriptionFailed))
		return
	}
	m.submitLocked(a, text)
	m.commit()
}

// SubmitForAnalysis submits text as the answer of the current attempt. Blank
// text is rejected without any upstream call.
func (m *Machine) SubmitForAnalysis(text string) error {
	m.mu.Lock()
	if err := m.requireStep(model.StepPractice); err != nil {
		m.mu.Unlock()
		return err
	}
	a := m.attempt
	if a.recording != model.RecordingIdle || a.starting {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	if strings.TrimSpace(text) == "" {
		m.mu.Unlock()
		return model.Validationf("answer text is empty")
	}
	m.submitLocked(a, text)
	m.commit()
	return nil
}

func (m *Machine) submitLocked(a *attempt, text string) {
	a.answer = text
	m.step = model.StepAnalysis
	m.loading = true
	m.feedback = nil
	m.lastErr = nil

	req := model.AnalyzeRequest{
		Question:      a.question.Question,
		Answer:        text,
		Role:          m.role,
		TimeLimit:     a.timeLimit,
		RemainingTime: a.remaining,
	}
	go m.analyze(a.id, req)
}

func (m *Machine) analyze(id uint64, req model.AnalyzeRequest) {
	var (
		fb  model.Feedback
		err error
	)
	if m.opts.Analyzer == nil {
		err = fmt.Errorf("%w: analysis is not configured", model.ErrUpstreamUnavailable)
	} else {
		ctx, cancel := m.requestContext()
		fb, err = m.opts.Analyzer.Analyze(ctx, req)
		cancel()
	}
	if err != nil && len(fb.Mistakes) == 0 {
		fb = llm.Degraded(err)
	}

	m.mu.Lock()
	a := m.attempt
	if m.closed || m.step != model.StepAnalysis || !m.loading || a == nil || a.id != id {
		m.mu.Unlock()
		m.log.Debug("dropping stale analysis", "attempt", id)
		return
	}
	m.feedback = &fb
	m.loading = false
	m.lastErr = err
	m.commit()
}

// Cancel abandons the current attempt and returns to Selection, releasing
// the recorder if it is active.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	if err := m.requireStep(model.StepPractice); err != nil {
		m.mu.Unlock()
		return err
	}
	release := m.discardAttemptLocked()
	m.step = model.StepSelection
	m.commit()
	release()
	return nil
}

// Reset leaves Analysis for Selection, discarding the feedback.
func (m *Machine) Reset() error {
	m.mu.Lock()
	if err := m.requireStep(model.StepAnalysis); err != nil {
		m.mu.Unlock()
		return err
	}
	release := m.discardAttemptLocked()
	m.step = model.StepSelection
	m.commit()
	release()
	return nil
}

// Retry starts a fresh attempt on the same question.
func (m *Machine) Retry() error {
	m.mu.Lock()
	if err := m.requireStep(model.StepAnalysis); err != nil {
		m.mu.Unlock()
		return err
	}
	q := m.attempt.question
	m.newAttemptLocked(q)
	m.commit()
	return nil
}

// discardAttemptLocked drops the current attempt. The returned func aborts
// the recorder if the attempt was recording; callers run it outside the
// lock.
func (m *Machine) discardAttemptLocked() func() {
	release := func() {}
	if a := m.attempt; a != nil && a.recording == model.RecordingActive {
		close(a.stopTick)
		a.stopTick = nil
		_, done := m.claimDeviceLocked()
		release = func() {
			m.opts.Recorder.Abort()
			close(done)
		}
	}
	m.attempt = nil
	m.loading = false
	m.feedback = nil
	m.lastErr = nil
	return release
}

// Close releases the recorder and makes every later action and pending
// result a no-op.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	release := m.discardAttemptLocked()
	m.closed = true
	m.mu.Unlock()
	release()
}
