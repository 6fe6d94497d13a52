package rpc

import (
	"encoding/json"
	"fmt"

	"PeopleChat/internal/session"
)

// JSON-RPC 2.0 protocol types for the chat API

const Version = "2.0"

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"` // Always "2.0"
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"` // Always "2.0"
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Standard and application error codes
const (
	CodeParseError       = -32700
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeBackendError     = -32001
	CodeEmptyResponse    = -32002
	CodeInvalidSelection = -32003
	CodeConfiguration    = -32004
)

// Chat API methods
const (
	MethodAsk            = "ask"
	MethodSamplePrompts  = "sample_prompts"
	MethodFollowups      = "followups"
	MethodSelectFollowup = "select_followup"
	MethodList           = "list"
	MethodHistory        = "history"
	MethodReset          = "reset"
	MethodSettings       = "settings"
	MethodSetModel       = "set_model"
	MethodSetTemperature = "set_temperature"
	MethodSetAssistant   = "set_assistant"
	MethodSpeak          = "speak"
	MethodTranscribe     = "transcribe"
)

// AskParams represents parameters for an ask request
type AskParams struct {
	Question       string  `json:"question"`
	Instructions   string  `json:"instructions,omitempty"`
	IncludeHistory *bool   `json:"include_history,omitempty"` // defaults to true
	AssistantID    *string `json:"assistant_id,omitempty"`    // per-call override, "" forces chat
}

// AskResult represents the result of an ask request
type AskResult struct {
	Reply        string            `json:"reply"`
	Conversation []session.Message `json:"conversation"`
}

// SamplePromptsParams represents parameters for a sample_prompts request
type SamplePromptsParams struct {
	Context  string `json:"context"`
	Count    int    `json:"count,omitempty"`
	MaxWords int    `json:"max_words,omitempty"`
}

// FollowupsParams represents parameters for a followups request. Question and
// Answer default to the connection's last exchange.
type FollowupsParams struct {
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Count    int    `json:"count,omitempty"`
	MaxWords int    `json:"max_words,omitempty"`
}

// PromptsResult carries generated sample prompts or follow-ups
type PromptsResult struct {
	Prompts []string `json:"prompts"`
}

// SelectFollowupParams represents a 1-based follow-up choice, "0" skips
type SelectFollowupParams struct {
	Choice       string `json:"choice"`
	Instructions string `json:"instructions,omitempty"`
}

// SelectFollowupResult represents the exchange after a selection
type SelectFollowupResult struct {
	Skipped      bool              `json:"skipped"`
	Question     string            `json:"question"`
	Answer       string            `json:"answer"`
	Conversation []session.Message `json:"conversation"`
}

// ListParams represents parameters for a list request
type ListParams struct {
	Description string `json:"description"`
	Count       int    `json:"count"`
	MaxWords    int    `json:"max_words"`
}

// ListResult represents generated list items
type ListResult struct {
	Items []string `json:"items"`
}

// HistoryResult represents the connection's transcript
type HistoryResult struct {
	Conversation []session.Message `json:"conversation"`
}

type SetModelParams struct {
	Model string `json:"model"`
}

type SetTemperatureParams struct {
	Temperature float64 `json:"temperature"`
}

type SetAssistantParams struct {
	AssistantID string `json:"assistant_id"`
}

// SpeakParams represents a text-to-speech request; empty Text speaks the last answer
type SpeakParams struct {
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// SpeakResult carries mp3 audio, base64 encoded on the wire
type SpeakResult struct {
	Audio []byte `json:"audio"`
}

// TranscribeParams carries audio to translate into English text
type TranscribeParams struct {
	Filename string `json:"filename"`
	Audio    []byte `json:"audio"`
}

// TranscribeResult represents transcribed text
type TranscribeResult struct {
	Text string `json:"text"`
}

// OK is the result of requests that return nothing else
type OK struct {
	OK bool `json:"ok"`
}
