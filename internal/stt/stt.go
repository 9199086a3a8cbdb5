// Package stt transcribes recorded answers through an OpenAI-compatible
// /audio/transcriptions endpoint.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/observe"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = openai.Whisper1

// MockTranscript is returned instead of a transcription when no credential
// is configured.
const MockTranscript = "I'm sorry, to actually transcribe your voice you need to provide a real " +
	"OpenAI API Key in the .env file. This is a mock response because the key is missing."

// Client sends audio artifacts to the speech-to-text backend.
type Client struct {
	api        *openai.Client
	model      string
	configured bool
	metrics    *observe.Metrics
}

// New creates a transcription client. An empty or placeholder apiKey puts
// the client in mock mode.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Client{
		api:        openai.NewClientWithConfig(config),
		model:      modelName,
		configured: model.CredentialConfigured(apiKey),
		metrics:    observe.DefaultMetrics(),
	}
}

// WithMetrics replaces the metrics sink and returns c.
func (c *Client) WithMetrics(m *observe.Metrics) *Client {
	c.metrics = m
	return c
}

// Configured reports whether a real upstream credential is set.
func (c *Client) Configured() bool {
	return c.configured
}

// Transcribe returns the text spoken in audio.
//
// Upstream rejections and empty results wrap model.ErrTranscriptionFailed
// inside a *model.StatusError carrying the status to relay. Network failures
// wrap model.ErrUpstreamUnavailable.
func (c *Client) Transcribe(ctx context.Context, audio model.AudioArtifact) (string, error) {
	ctx, span := observe.StartSpan(ctx, "stt.transcribe")
	defer span.End()

	if !c.configured {
		c.metrics.RecordProviderRequest(ctx, observe.KindSTT, observe.StatusMock)
		observe.Logger(ctx).Debug("no STT credential configured, returning mock transcript")
		return MockTranscript, nil
	}

	text, err := c.transcribe(ctx, audio)
	if err != nil {
		kind := model.ErrorKind(err)
		span.RecordError(err)
		c.metrics.RecordProviderRequest(ctx, observe.KindSTT, observe.StatusError)
		c.metrics.RecordProviderError(ctx, observe.KindSTT, kind)
		observe.Logger(ctx).Warn("transcription failed", "kind", kind, "error", err)
		return "", err
	}
	c.metrics.RecordProviderRequest(ctx, observe.KindSTT, observe.StatusOK)
	return text, nil
}

func (c *Client) transcribe(ctx context.Context, audio model.AudioArtifact) (string, error) {
	if len(audio.Data) == 0 {
		return "", &model.StatusError{
			Err:     model.ErrTranscriptionFailed,
			Status:  http.StatusBadRequest,
			Message: "empty audio recording",
		}
	}

	start := time.Now()
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: audio.Filename(),
		Reader:   bytes.NewReader(audio.Data),
		Format:   openai.AudioResponseFormatJSON,
	})
	c.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", classify(err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", &model.StatusError{
			Err:     model.ErrTranscriptionFailed,
			Status:  http.StatusBadGateway,
			Message: "transcription returned no text",
		}
	}
	return text, nil
}

// classify maps a client error onto the error taxonomy, keeping the upstream
// status and message when the service answered.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &model.StatusError{
			Err:     model.ErrTranscriptionFailed,
			Status:  upstreamStatus(apiErr.HTTPStatusCode),
			Message: apiErr.Message,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &model.StatusError{
			Err:     model.ErrTranscriptionFailed,
			Status:  upstreamStatus(reqErr.HTTPStatusCode),
			Message: msg,
		}
	}
	return fmt.Errorf("%w: transcription request: %w", model.ErrUpstreamUnavailable, err)
}

func upstreamStatus(code int) int {
	if code < 400 || code > 599 {
		return http.StatusBadGateway
	}
	return code
}
