package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"PeopleChat/internal/session"
)

const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  OllamaOptions `json:"options"`
}

// OllamaOptions carries sampling parameters
type OllamaOptions struct {
	Temperature float64 `json:"temperature"`
}

// OllamaResponse represents the response from Ollama API
type OllamaResponse struct {
	Model     string      `json:"model"`
	CreatedAt string      `json:"created_at"`
	Message   ChatMessage `json:"message"`
	Done      bool        `json:"done"`
}

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// OllamaClient is a stateless chat adapter for a local Ollama server
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaClient(baseURL string, httpClient *http.Client) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *OllamaClient) CompleteChat(ctx context.Context, instructions string, prior []session.Message, newUserText string, settings session.Settings) (string, error) {
	reqBody := OllamaRequest{
		Model:    settings.Model,
		Messages: chatMessages(instructions, prior, newUserText),
		Stream:   false,
		Options:  OllamaOptions{Temperature: settings.Temperature},
	}

	var apiResp OllamaResponse
	if err := doJSON(ctx, c.httpClient, "ollama chat", http.MethodPost, c.baseURL+"/api/chat", nil, reqBody, &apiResp); err != nil {
		return "", err
	}

	answer := strings.TrimSpace(apiResp.Message.Content)
	if answer == "" {
		return "", fmt.Errorf("ollama chat: %w", ErrEmptyResponse)
	}
	return answer, nil
}

func (c *OllamaClient) CompleteAssistantThread(ctx context.Context, instructions, newUserText, assistantID string) (string, error) {
	return "", ErrAssistantUnsupported
}

// ListModels fetches the list of available Ollama models
func (c *OllamaClient) ListModels(ctx context.Context) ([]OllamaModel, error) {
	var tagsResp OllamaTagsResponse
	if err := doJSON(ctx, c.httpClient, "ollama tags", http.MethodGet, c.baseURL+"/api/tags", nil, nil, &tagsResp); err != nil {
		return nil, err
	}
	return tagsResp.Models, nil
}
