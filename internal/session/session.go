package session

import (
	"fmt"
	"time"
)

// Role identifies the author of a message in a transcript
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single chat message
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped with the current time
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Settings is the per-session model configuration. Changes apply to the next call only.
type Settings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	AssistantID string  `json:"assistant_id,omitempty"`
}

// Validate checks the settings without clamping anything
func (s Settings) Validate() error {
	if s.Model == "" {
		return &ConfigurationError{Field: "model", Reason: "must not be empty"}
	}
	return ValidateTemperature(s.Temperature)
}

// ValidateTemperature reports a ConfigurationError when t is outside [0,1]
func ValidateTemperature(t float64) error {
	if t < 0 || t > 1 {
		return &ConfigurationError{
			Field:  "temperature",
			Reason: fmt.Sprintf("%v is outside [0,1]", t),
		}
	}
	return nil
}

// Record represents a persisted chat session
type Record struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Provider  string    `json:"provider"`
	Settings  Settings  `json:"settings"`
	Messages  []Message `json:"messages"`
}

// ConfigurationError is returned for a missing or invalid configuration value
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}
