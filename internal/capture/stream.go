package capture

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pavelanni/interviewer/internal/model"
)

// StreamSource is a device fed by a remote recorder, such as a browser
// MediaRecorder sending chunks over a websocket. Only one session may hold
// it at a time.
type StreamSource struct {
	mu          sync.Mutex
	contentType string
	active      *streamSession
}

// NewStreamSource returns a source producing audio of contentType.
func NewStreamSource(contentType string) *StreamSource {
	if contentType == "" {
		contentType = model.ContentTypeWebM
	}
	return &StreamSource{contentType: contentType}
}

// SetContentType changes the container type announced by the next session.
func (s *StreamSource) SetContentType(contentType string) {
	if contentType == "" {
		return
	}
	s.mu.Lock()
	s.contentType = contentType
	s.mu.Unlock()
}

// Start acquires the stream. It fails with model.ErrDeviceUnavailable while
// another session holds it.
func (s *StreamSource) Start(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrDeviceUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, fmt.Errorf("%w: audio stream busy", model.ErrDeviceUnavailable)
	}
	pr, pw := io.Pipe()
	sess := &streamSession{source: s, pr: pr, pw: pw, contentType: s.contentType}
	s.active = sess
	return sess, nil
}

// Feed delivers one chunk to the active session. Chunks arriving while no
// session is active are dropped and reported as ErrNotRecording.
func (s *StreamSource) Feed(chunk []byte) error {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()
	if sess == nil {
		return ErrNotRecording
	}
	if len(chunk) == 0 {
		return nil
	}
	if _, err := sess.pw.Write(chunk); err != nil {
		return ErrNotRecording
	}
	return nil
}

type streamSession struct {
	source      *StreamSource
	pr          *io.PipeReader
	pw          *io.PipeWriter
	contentType string
	stopOnce    sync.Once
}

func (s *streamSession) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

func (s *streamSession) ContentType() string {
	return s.contentType
}

// Stop ends the stream; the reader drains what was written and sees io.EOF.
func (s *streamSession) Stop() error {
	s.stopOnce.Do(func() {
		s.source.mu.Lock()
		if s.source.active == s {
			s.source.active = nil
		}
		s.source.mu.Unlock()
		_ = s.pw.Close()
	})
	return nil
}
