// Package llm turns a practice answer into a structured feedback report
// through an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/interviewer/internal/llm/prompts"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/observe"
)

// DefaultModel is the completion model used when none is configured.
const DefaultModel = "gpt-4o"

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api        *openai.Client
	model      string
	variant    prompts.PromptVariant
	configured bool
	metrics    *observe.Metrics
}

// New creates a new feedback client. An empty or placeholder apiKey puts
// the client in mock mode where Analyze returns CannedFeedback.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	// Template errors surface from BuildFeedbackPrompt.
	_ = prompts.Load(prompts.Templates)
	if !prompts.IsValidVariant(string(variant)) {
		variant = prompts.PromptStandard
	}
	return &Client{
		api:        openai.NewClientWithConfig(config),
		model:      modelName,
		variant:    variant,
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

// Analyze requests feedback for req. The returned report is always
// displayable: canned in mock mode, parsed on success, or Degraded when the
// call or the parse fails. In the last case the cause is returned as well.
func (c *Client) Analyze(ctx context.Context, req model.AnalyzeRequest) (model.Feedback, error) {
	ctx, span := observe.StartSpan(ctx, "llm.analyze")
	defer span.End()
	log := observe.Logger(ctx)

	if !c.configured {
		c.metrics.RecordProviderRequest(ctx, observe.KindLLM, observe.StatusMock)
		log.Debug("no LLM credential configured, returning canned feedback")
		return CannedFeedback(), nil
	}

	fb, err := c.complete(ctx, req)
	if err != nil {
		kind := model.ErrorKind(err)
		span.RecordError(err)
		c.metrics.RecordProviderRequest(ctx, observe.KindLLM, observe.StatusDegraded)
		c.metrics.RecordProviderError(ctx, observe.KindLLM, kind)
		c.metrics.RecordDegraded(ctx, kind)
		log.Warn("feedback analysis failed", "kind", kind, "error", err)
		return Degraded(err), err
	}
	c.metrics.RecordProviderRequest(ctx, observe.KindLLM, observe.StatusOK)
	return fb, nil
}

func (c *Client) complete(ctx context.Context, req model.AnalyzeRequest) (model.Feedback, error) {
	prompt, err := prompts.BuildFeedbackPrompt(c.variant, req)
	if err != nil {
		return model.Feedback{}, fmt.Errorf("build prompt: %w", err)
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompts.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return model.Feedback{}, fmt.Errorf("%w: LLM API call: %w", model.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return model.Feedback{}, fmt.Errorf("%w: LLM returned no choices", model.ErrMalformedFeedback)
	}

	raw := resp.Choices[0].Message.Content
	observe.Logger(ctx).Debug("LLM response", "raw", raw)

	return ParseFeedback(raw)
}

// Ping checks that the upstream endpoint answers. In mock mode there is
// nothing to reach and Ping succeeds.
func (c *Client) Ping(ctx context.Context) error {
	if !c.configured {
		return nil
	}
	if _, err := c.api.ListModels(ctx); err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: list models: status %d: %s", model.ErrUpstreamUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return fmt.Errorf("%w: list models: %w", model.ErrUpstreamUnavailable, err)
	}
	return nil
}
