package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"PeopleChat/internal/session"
)

const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIRequest represents the request body for the chat completions endpoint
type OpenAIRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

// OpenAIResponse represents the response from the chat completions endpoint
type OpenAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *OpenAIUsage `json:"usage"`
}

// OpenAIUsage holds the token counts reported with a completion
type OpenAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// PollConfig bounds how a hosted-assistant run is polled
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Timeout     time.Duration
}

// DefaultPollConfig returns the poll cadence used when none is configured
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    500 * time.Millisecond,
		MaxInterval: 5 * time.Second,
		Timeout:     2 * time.Minute,
	}
}

// OpenAIClient talks to the OpenAI chat, assistants, files and audio APIs
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	poll       PollConfig
	logger     *slog.Logger

	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
}

// OpenAIOption configures an OpenAIClient
type OpenAIOption func(*OpenAIClient)

func WithHTTPClient(httpClient *http.Client) OpenAIOption {
	return func(c *OpenAIClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithPollConfig sets the run poll cadence; zero fields keep their defaults.
func WithPollConfig(poll PollConfig) OpenAIOption {
	return func(c *OpenAIClient) {
		if poll.Interval > 0 {
			c.poll.Interval = poll.Interval
		}
		if poll.MaxInterval > 0 {
			c.poll.MaxInterval = poll.MaxInterval
		}
		if poll.Timeout > 0 {
			c.poll.Timeout = poll.Timeout
		}
	}
}

func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(c *OpenAIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMeter enables token usage counters
func WithMeter(meter metric.Meter) OpenAIOption {
	return func(c *OpenAIClient) {
		if meter == nil {
			return
		}
		if counter, err := meter.Int64Counter("llm.usage.prompt_tokens",
			metric.WithDescription("Prompt tokens consumed by chat completions")); err == nil {
			c.promptTokens = counter
		}
		if counter, err := meter.Int64Counter("llm.usage.completion_tokens",
			metric.WithDescription("Completion tokens produced by chat completions")); err == nil {
			c.completionTokens = counter
		}
	}
}

// NewOpenAIClient creates an OpenAI client. An empty baseURL uses the public API.
func NewOpenAIClient(apiKey, baseURL string, opts ...OpenAIOption) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	c := &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		poll:       DefaultPollConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompleteChat calls the stateless chat completions endpoint
func (c *OpenAIClient) CompleteChat(ctx context.Context, instructions string, prior []session.Message, newUserText string, settings session.Settings) (string, error) {
	reqBody := OpenAIRequest{
		Model:       settings.Model,
		Messages:    chatMessages(instructions, prior, newUserText),
		Temperature: settings.Temperature,
	}

	var apiResp OpenAIResponse
	if err := c.doJSON(ctx, "openai chat completion", http.MethodPost, "/chat/completions", reqBody, &apiResp); err != nil {
		return "", err
	}

	c.recordUsage(ctx, apiResp.Usage)

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: %w", ErrEmptyResponse)
	}
	answer := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("openai chat completion: %w", ErrEmptyResponse)
	}
	return answer, nil
}

func (c *OpenAIClient) recordUsage(ctx context.Context, usage *OpenAIUsage) {
	if usage == nil {
		return
	}
	if c.promptTokens != nil {
		c.promptTokens.Add(ctx, usage.PromptTokens)
	}
	if c.completionTokens != nil {
		c.completionTokens.Add(ctx, usage.CompletionTokens)
	}
	c.logger.Debug("openai usage", "prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
}

func (c *OpenAIClient) header(path string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.apiKey)
	if strings.HasPrefix(path, "/threads") {
		h.Set("OpenAI-Beta", "assistants=v2")
	}
	return h
}

func (c *OpenAIClient) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	return doJSON(ctx, c.httpClient, op, method, c.baseURL+path, c.header(path), in, out)
}
