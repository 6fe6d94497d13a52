package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"PeopleChat/internal/session"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 1024
)

// AnthropicRequest represents the request body for Anthropic API
type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicContent represents one content block of a response
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicResponse represents the response from Anthropic API
type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []AnthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
}

// AnthropicClient is a stateless chat adapter for the Anthropic messages API
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewAnthropicClient(apiKey, baseURL string, httpClient *http.Client) *AnthropicClient {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// CompleteChat sends the instructions as the system prompt and the transcript as messages
func (c *AnthropicClient) CompleteChat(ctx context.Context, instructions string, prior []session.Message, newUserText string, settings session.Settings) (string, error) {
	// Anthropic takes the system prompt out of band
	var messages []AnthropicMessage
	for _, msg := range chatMessages(instructions, prior, newUserText) {
		if msg.Role == string(session.RoleSystem) {
			continue
		}
		messages = append(messages, AnthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	reqBody := AnthropicRequest{
		Model:       settings.Model,
		MaxTokens:   anthropicMaxTokens,
		System:      instructions,
		Messages:    messages,
		Temperature: settings.Temperature,
	}

	header := http.Header{}
	header.Set("x-api-key", c.apiKey)
	header.Set("anthropic-version", anthropicVersion)

	var apiResp AnthropicResponse
	if err := doJSON(ctx, c.httpClient, "anthropic messages", http.MethodPost, c.baseURL+"/messages", header, reqBody, &apiResp); err != nil {
		return "", err
	}

	for _, content := range apiResp.Content {
		if content.Type == "text" && strings.TrimSpace(content.Text) != "" {
			return strings.TrimSpace(content.Text), nil
		}
	}
	return "", fmt.Errorf("anthropic messages: %w", ErrEmptyResponse)
}

func (c *AnthropicClient) CompleteAssistantThread(ctx context.Context, instructions, newUserText, assistantID string) (string, error) {
	return "", ErrAssistantUnsupported
}
