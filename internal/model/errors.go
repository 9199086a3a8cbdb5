package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the capture, transcription and feedback layers.
// Callers classify failures with errors.Is against these sentinels.
var (
	// ErrDeviceUnavailable means the audio input device is missing, busy or
	// permission was denied.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrTranscriptionFailed means the speech-to-text backend returned a
	// non-success status or an empty result.
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrMalformedFeedback means the completion could not be parsed into a
	// feedback record.
	ErrMalformedFeedback = errors.New("malformed feedback")
	// ErrUpstreamUnavailable means a network or service error prevented the
	// upstream call.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrValidation means required user input was missing or invalid, or the
	// action is not allowed in the current state.
	ErrValidation = errors.New("validation error")
)

// StatusError attaches an HTTP status to a classified error.
type StatusError struct {
	Err     error // one of the sentinels above
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.Err, e.Status)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Err, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Validationf returns an ErrValidation wrapping a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ErrorKind names the taxonomy class of err for logs and API payloads.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrTranscriptionFailed):
		return "transcription_failed"
	case errors.Is(err, ErrMalformedFeedback):
		return "malformed_feedback"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
