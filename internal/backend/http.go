package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"PeopleChat/internal/session"
)

// ChatMessage is the role/content pair shared by the chat-style APIs
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatMessages builds system + prior + new user message in transcript order
func chatMessages(instructions string, prior []session.Message, newUserText string) []ChatMessage {
	messages := make([]ChatMessage, 0, len(prior)+2)
	messages = append(messages, ChatMessage{Role: string(session.RoleSystem), Content: instructions})
	for _, msg := range prior {
		messages = append(messages, ChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return append(messages, ChatMessage{Role: string(session.RoleUser), Content: newUserText})
}

// sendRequest executes req and returns the body of a 2xx response
func sendRequest(httpClient *http.Client, op string, req *http.Request) ([]byte, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &BackendError{Op: op, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &BackendError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(body), 400)}
	}
	return body, nil
}

// doJSON marshals in (when non-nil), sends it and unmarshals the reply into out (when non-nil)
func doJSON(ctx context.Context, httpClient *http.Client, op, method, url string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}

	data, err := sendRequest(httpClient, op, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &BackendError{Op: op, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	return nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
