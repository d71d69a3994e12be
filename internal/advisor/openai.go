package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"orgchart/api/internal/metrics"
)

// CompletionRequest is one chat completion call: an optional system prompt,
// one user message and the token budget.
type CompletionRequest struct {
	Operation string
	System    string
	User      string
	MaxTokens int64
	JSON      bool
}

type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type OpenAICompleter struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAICompleter(opts OpenAIOptions) *OpenAICompleter {
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(opts.Timeout))
	}
	return &OpenAICompleter{
		client:      openai.NewClient(clientOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(req.MaxTokens),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	metrics.Upstream.WithLabelValues("openai", req.Operation, metrics.Result(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrUpstream)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstream)
	}
	return content, nil
}

// Unconfigured is used when no API key is set; every call fails as an
// upstream error.
type Unconfigured struct{}

var errNotConfigured = errors.New("completion API key is not configured")

func (Unconfigured) Complete(context.Context, CompletionRequest) (string, error) {
	return "", fmt.Errorf("%w: %v", ErrUpstream, errNotConfigured)
}
