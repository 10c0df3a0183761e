// Package llm wraps the language model behind a one-method interface so
// the planner, executor, and summarizer stay testable without network
// access. The model is an external collaborator; nothing in the learning
// core calls it.
package llm

import (
	"context"
	stderrors "errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/logging"
)

// Client generates a completion for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Anthropic implements Client on the Anthropic Messages API.
type Anthropic struct {
	client      *anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// Option configures an Anthropic client.
type Option func(*options)

type options struct {
	baseURL string
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// NewAnthropic creates an Anthropic-backed client from configuration.
func NewAnthropic(cfg config.LLMConfig, opts ...Option) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.InvalidInput, "anthropic API key is required (set ANTHROPIC_API_KEY)")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Anthropic{
		client:      &client,
		model:       anthropic.Model(cfg.ModelID),
		maxTokens:   int64(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

// Generate sends a single-turn prompt and returns the text response.
func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	logger := logging.GetLogger()

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: a.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
	})
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			logger.Error(ctx, "Anthropic API error: status code %d", apiErr.StatusCode)
		}
		return "", errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "failed to generate response"),
			errors.Fields{"model": string(a.model)},
		)
	}

	if message == nil || len(message.Content) == 0 {
		return "", errors.New(errors.LLMGenerationFailed, "received empty content from Anthropic API")
	}

	var responseText string
	if block := message.Content[0]; block.Type == "text" {
		responseText = block.Text
	}

	logger.Debug(ctx, "Anthropic response: %d prompt tokens, %d completion tokens",
		message.Usage.InputTokens, message.Usage.OutputTokens)

	return responseText, nil
}

var _ Client = (*Anthropic)(nil)
