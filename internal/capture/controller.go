package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pavelanni/interviewer/internal/model"
)

const defaultChunkSize = 4096

// Controller records from a Source into a Buffer, one recording at a time.
// The device is released on every exit path: Stop, Abort, a read error and
// cancellation of the context passed to Start.
type Controller struct {
	source    Source
	chunkSize int

	mu     sync.Mutex
	active *recording
}

type recording struct {
	session Session
	buf     *Buffer
	done    chan struct{} // closed when the pump returns
	readErr error         // set by the pump before done is closed
}

// NewController returns a controller recording from source.
func NewController(source Source) *Controller {
	return &Controller{source: source, chunkSize: defaultChunkSize}
}

// State reports whether a recording is active.
func (c *Controller) State() model.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return model.RecordingActive
	}
	return model.RecordingIdle
}

// Start acquires the device and begins buffering. Device failures wrap
// model.ErrDeviceUnavailable and leave the controller idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return ErrAlreadyRecording
	}

	session, err := c.source.Start(ctx)
	if err != nil {
		if !errors.Is(err, model.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrDeviceUnavailable, err)
		}
		return err
	}

	rec := &recording{
		session: session,
		buf:     NewBuffer(session.ContentType()),
		done:    make(chan struct{}),
	}
	c.active = rec

	go c.pump(rec)
	go func() {
		select {
		case <-ctx.Done():
			if c.release(rec) {
				slog.Debug("capture aborted by context", "error", ctx.Err())
				_ = rec.session.Stop()
				<-rec.done
				rec.buf.Close()
			}
		case <-rec.done:
		}
	}()
	return nil
}

// pump copies session reads into the buffer until the device is released.
func (c *Controller) pump(rec *recording) {
	defer close(rec.done)

	chunk := make([]byte, c.chunkSize)
	for {
		n, err := rec.session.Read(chunk)
		if n > 0 {
			if appendErr := rec.buf.Append(chunk[:n]); appendErr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				rec.readErr = err
				// A failing device is released right away; Stop reports it.
				_ = rec.session.Stop()
			}
			return
		}
	}
}

// release clears rec as the active recording. It reports false if rec is no
// longer active, in which case another path already owns teardown.
func (c *Controller) release(rec *recording) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != rec {
		return false
	}
	c.active = nil
	return true
}

func (c *Controller) take() *recording {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.active
	c.active = nil
	return rec
}

// Stop releases the device and returns the recorded audio.
func (c *Controller) Stop() (model.AudioArtifact, error) {
	rec := c.take()
	if rec == nil {
		return model.AudioArtifact{}, ErrNotRecording
	}

	stopErr := rec.session.Stop()
	<-rec.done

	if rec.readErr != nil {
		rec.buf.Close()
		return model.AudioArtifact{}, fmt.Errorf("%w: read audio: %w", model.ErrDeviceUnavailable, rec.readErr)
	}
	if stopErr != nil {
		slog.Warn("audio device did not stop cleanly", "error", stopErr)
	}
	return rec.buf.Finalize()
}

// Abort releases the device and discards buffered audio. It is a no-op when
// idle.
func (c *Controller) Abort() {
	rec := c.take()
	if rec == nil {
		return
	}
	_ = rec.session.Stop()
	<-rec.done
	rec.buf.Close()
}
