package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/interviewer/internal/capture"
	appI18n "github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/report"
	"github.com/pavelanni/interviewer/internal/session"
)

func practiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Answer one question in the terminal and print the feedback",
		Long: `Pick a question, answer it out loud through the local microphone
(recorded with ffmpeg) or pass the answer with --text, and print the
feedback report.`,
		RunE: runPractice,
	}
	f := cmd.Flags()
	f.String("role", model.DefaultRole, "Candidate role")
	f.String("type", model.DefaultType, "Question type filter")
	f.String("question", "", "Question ID (default: first matching question)")
	f.Int("time-limit", model.DefaultTimeLimit, "Answer time limit in seconds (30, 60, 120)")
	f.String("text", "", "Answer text; skips voice capture")
	f.String("ffmpeg", "ffmpeg", "ffmpeg executable used for microphone capture")
	f.String("input-format", "pulse", "ffmpeg input format (pulse, alsa, avfoundation, dshow)")
	f.String("input-device", "default", "ffmpeg input device")
	addStoreFlags(f)
	addUpstreamFlags(f)
	return cmd
}

func runPractice(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()
	cat, err := db.Catalog()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLang(ctx, lang)

	llmClient, sttClient := newClients(v)
	text := v.GetString("text")

	opts := session.Options{
		Catalog:        cat,
		Transcriber:    sttClient,
		Analyzer:       llmClient,
		RequestTimeout: v.GetDuration("request-timeout"),
	}
	if text == "" {
		src := capture.NewFFmpegSource(v.GetString("ffmpeg"))
		src.InputFormat = v.GetString("input-format")
		src.InputDevice = v.GetString("input-device")
		opts.Recorder = capture.NewController(src)
	}
	changes := make(chan struct{}, 1)
	opts.OnChange = func(session.Snapshot) {
		select {
		case changes <- struct{}{}:
		default:
		}
	}

	m, err := session.New(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := startAttempt(m, v); err != nil {
		return err
	}
	q := m.Snapshot().Attempt.Question

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n%s: %s\n\n",
		appI18n.T(ctx, "Question"), q.Question,
		appI18n.T(ctx, "TimeLimit"), appI18n.Tp(ctx, "Seconds", v.GetInt("time-limit")))

	var enter <-chan struct{}
	if text != "" {
		if err := m.SubmitForAnalysis(text); err != nil {
			return err
		}
	} else {
		if err := m.StartCapture(ctx); err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), appI18n.T(ctx, "RecordingHint"))
		enter = readLines(cmd.InOrStdin())
	}

	snap, err := waitForFeedback(ctx, m, changes, enter, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if snap.Error != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", appI18n.T(ctx, "ErrorPrefix"), snap.Error)
	}
	fmt.Fprintln(out)
	return report.Render(ctx, out, q, *snap.Feedback)
}

// startAttempt applies the filters and begins practice on the chosen
// question.
func startAttempt(m *session.Machine, v *viper.Viper) error {
	if err := m.SelectRole(v.GetString("role")); err != nil {
		return err
	}
	if err := m.SelectType(v.GetString("type")); err != nil {
		return err
	}
	if err := m.SetTimeLimit(v.GetInt("time-limit")); err != nil {
		return err
	}

	id := v.GetString("question")
	if id == "" {
		qs := m.Snapshot().Questions
		if len(qs) == 0 {
			return model.Validationf("no questions match role %q and type %q", v.GetString("role"), v.GetString("type"))
		}
		id = qs[0].ID
	}
	if err := m.SelectQuestion(id); err != nil {
		return err
	}
	return m.StartPractice()
}

// readLines signals once per line read from r.
func readLines(r io.Reader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		br := bufio.NewReader(r)
		for {
			if _, err := br.ReadString('\n'); err != nil {
				return
			}
			ch <- struct{}{}
		}
	}()
	return ch
}

// waitForFeedback drives the session until a report is available. A line on
// enter stops the recording; the countdown is echoed to status.
func waitForFeedback(ctx context.Context, m *session.Machine, changes <-chan struct{}, enter <-chan struct{}, status io.Writer) (session.Snapshot, error) {
	lastShown := -1
	for {
		s := m.Snapshot()
		switch {
		case s.Step == model.StepAnalysis && !s.Loading && s.Feedback != nil:
			return s, nil
		case s.Step == model.StepPractice && s.Attempt != nil:
			a := s.Attempt
			if a.RecordingState == model.RecordingActive && a.RemainingSeconds != lastShown {
				lastShown = a.RemainingSeconds
				fmt.Fprintf(status, "\r%3ds ", a.RemainingSeconds)
			}
			if a.RecordingState == model.RecordingTranscribing && lastShown >= 0 {
				fmt.Fprintln(status)
				lastShown = -1
			}
			if a.RecordingState == model.RecordingIdle && s.Error != "" {
				fmt.Fprintln(status)
				return s, fmt.Errorf("%s (%s)", s.Error, s.ErrorKind)
			}
		}

		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-enter:
			if err := m.StopCapture(); err != nil && !errors.Is(err, session.ErrInvalidTransition) {
				return s, err
			}
		case <-changes:
		}
	}
}
