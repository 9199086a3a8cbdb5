package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/interviewer/internal/model"
)

const (
	// startGrace is how long Start waits for ffmpeg to fail on a bad device.
	startGrace = 250 * time.Millisecond
	// stopGrace is how long Stop waits after SIGINT before killing ffmpeg.
	stopGrace = 1200 * time.Millisecond
)

// FFmpegSource records the local microphone through an ffmpeg subprocess
// producing raw s16le PCM.
type FFmpegSource struct {
	Command     string // default "ffmpeg"
	InputFormat string // default "pulse"
	InputDevice string // default "default"
}

// NewFFmpegSource returns a source running command, or ffmpeg when empty.
func NewFFmpegSource(command string) *FFmpegSource {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegSource{Command: command, InputFormat: "pulse", InputDevice: "default"}
}

func (f *FFmpegSource) args() []string {
	format, device := f.InputFormat, f.InputDevice
	if format == "" {
		format = "pulse"
	}
	if device == "" {
		device = "default"
	}
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", format,
		"-i", device,
		"-ac", strconv.Itoa(PCMChannels),
		"-ar", strconv.Itoa(PCMSampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start launches ffmpeg. Failures to launch, or an exit within the start
// grace period, wrap model.ErrDeviceUnavailable.
func (f *FFmpegSource) Start(ctx context.Context) (Session, error) {
	cmd := exec.CommandContext(ctx, f.Command, f.args()...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	// exec copies stdout into the pipe and Wait returns only after the copy
	// finishes, so no trailing audio is lost on stop.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.WaitDelay = stopGrace

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", model.ErrDeviceUnavailable, f.Command, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		waitErr <- err
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = pr.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %w: %s", model.ErrDeviceUnavailable, err, stderr.trimmed())
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", model.ErrDeviceUnavailable)
	case <-time.After(startGrace):
	}

	return &ffmpegSession{
		stdout:  pr,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegSession struct {
	stdout  *io.PipeReader
	stderr  *lockedBuffer
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) ContentType() string {
	return model.ContentTypePCM
}

// Stop interrupts ffmpeg so it flushes, then kills it after stopGrace. The
// caller must keep reading until io.EOF for the process to exit.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			_ = s.process.Kill()
			// Unblock the stdout copy in case nobody is reading.
			_ = s.stdout.Close()
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if s.stopErr != nil {
			if msg := s.stderr.trimmed(); msg != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, msg)
			}
		}
	})
	return s.stopErr
}

// normalizeStopErr ignores the non-zero exit ffmpeg reports when interrupted.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// lockedBuffer collects stderr written by the exec copy goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
