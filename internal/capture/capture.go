// Package capture owns the audio input device for at most one recording at a
// time and turns the chunks it delivers into a single audio artifact.
package capture

import (
	"context"
	"errors"
	"io"
)

// Session is a live recording on an acquired device. Reads return audio
// bytes in arrival order and io.EOF once the device has been released.
type Session interface {
	io.Reader
	// Stop releases the device. It is safe to call more than once.
	Stop() error
	// ContentType is the container type of the bytes read.
	ContentType() string
}

// Source acquires the audio input device. Start fails with an error wrapping
// model.ErrDeviceUnavailable when the device is missing, busy or denied.
type Source interface {
	Start(ctx context.Context) (Session, error)
}

var (
	// ErrAlreadyRecording is returned by Start while a recording is active.
	ErrAlreadyRecording = errors.New("capture already in progress")
	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("no active capture")
	// ErrBufferClosed is returned when appending to a finalized buffer.
	ErrBufferClosed = errors.New("capture buffer closed")
)
