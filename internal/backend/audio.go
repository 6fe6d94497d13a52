package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

const (
	DefaultVoice       = "alloy"
	speechModel        = "tts-1"
	transcriptionModel = "whisper-1"
)

// SpeechRequest represents the body of a text-to-speech request
type SpeechRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
	Input string `json:"input"`
}

// TranscriptionResponse represents the result of a speech-to-text request
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// TextToSpeech returns mp3 audio for text. An empty voice uses DefaultVoice.
func (c *OpenAIClient) TextToSpeech(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = DefaultVoice
	}

	payload, err := json.Marshal(SpeechRequest{Model: speechModel, Voice: voice, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create speech request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("content-type", "application/json")

	audio, err := sendRequest(c.httpClient, "text to speech", req)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("text to speech: %w", ErrEmptyResponse)
	}
	return audio, nil
}

// SpeechToText translates the audio file at audioPath into English text
func (c *OpenAIClient) SpeechToText(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("model", transcriptionModel); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to copy audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/translations", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create translation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("content-type", w.FormDataContentType())

	data, err := sendRequest(c.httpClient, "speech to text", req)
	if err != nil {
		return "", err
	}

	var result TranscriptionResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", &BackendError{Op: "speech to text", Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	return result.Text, nil
}
