package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"PeopleChat/internal/session"
)

// GeminiClient is a stateless chat adapter for Google's Gemini models
type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiClient{client: cli}, nil
}

// CompleteChat seeds a chat session with the prior transcript and sends newUserText
func (g *GeminiClient) CompleteChat(ctx context.Context, instructions string, prior []session.Message, newUserText string, settings session.Settings) (string, error) {
	model := g.client.GenerativeModel(settings.Model)
	model.SetTemperature(float32(settings.Temperature))
	if instructions != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instructions)}}
	}

	cs := model.StartChat()
	cs.History = geminiHistory(prior)

	resp, err := cs.SendMessage(ctx, genai.Text(newUserText))
	if err != nil {
		return "", &BackendError{Op: "gemini generate content", Err: err}
	}

	answer := strings.TrimSpace(parseGeminiResponse(resp))
	if answer == "" {
		return "", fmt.Errorf("gemini generate content: %w", ErrEmptyResponse)
	}
	return answer, nil
}

func (g *GeminiClient) CompleteAssistantThread(ctx context.Context, instructions, newUserText, assistantID string) (string, error) {
	return "", ErrAssistantUnsupported
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// geminiHistory maps the transcript onto gemini's user/model roles
func geminiHistory(prior []session.Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(prior))
	for _, msg := range prior {
		var role string
		switch msg.Role {
		case session.RoleUser:
			role = "user"
		case session.RoleAssistant:
			role = "model"
		default:
			continue
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return history
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) string {
	var resStr strings.Builder
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	for i, part := range resp.Candidates[0].Content.Parts {
		text, ok := part.(genai.Text)
		if !ok {
			continue
		}
		if i > 0 {
			resStr.WriteString("\n")
		}
		resStr.WriteString(string(text))
	}
	return resStr.String()
}
