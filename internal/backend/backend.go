package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"

	"PeopleChat/internal/config"
	"PeopleChat/internal/session"
)

// Adapter hides the difference between the stateless chat endpoint and the
// stateful hosted-assistant thread.
type Adapter interface {
	// CompleteChat sends one system message, the prior messages and one new
	// user message, and returns the first choice's trimmed text.
	CompleteChat(ctx context.Context, instructions string, prior []session.Message, newUserText string, settings session.Settings) (string, error)

	// CompleteAssistantThread runs newUserText on a fresh provider-side thread
	// bound to assistantID and returns the newest assistant reply.
	CompleteAssistantThread(ctx context.Context, instructions, newUserText, assistantID string) (string, error)
}

// Speaker converts text to audio bytes
type Speaker interface {
	TextToSpeech(ctx context.Context, text, voice string) ([]byte, error)
}

// Transcriber converts an audio file to text
type Transcriber interface {
	SpeechToText(ctx context.Context, audioPath string) (string, error)
}

// ModelLister lists the models a local provider has available
type ModelLister interface {
	ListModels(ctx context.Context) ([]OllamaModel, error)
}

// New creates the provider adapter selected by cfg.Provider.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, meter metric.Meter) (Adapter, error) {
	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL,
			WithHTTPClient(httpClient),
			WithPollConfig(PollConfig{
				Interval:    cfg.Poll.Interval,
				MaxInterval: cfg.Poll.MaxInterval,
				Timeout:     cfg.Poll.Timeout,
			}),
			WithLogger(logger),
			WithMeter(meter),
		), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL, httpClient), nil
	case config.ProviderOllama:
		return NewOllamaClient(cfg.BaseURL, httpClient), nil
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey)
	default:
		return nil, &session.ConfigurationError{
			Field:  "provider",
			Reason: fmt.Sprintf("unknown provider %q", cfg.Provider),
		}
	}
}
