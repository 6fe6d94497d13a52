package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"PeopleChat/internal/backend"
	"PeopleChat/internal/session"
)

// ErrInvalidArgument is returned for non-positive counts or word limits
var ErrInvalidArgument = errors.New("invalid argument")

// IsEmpty reports whether err means the backend produced no usable answer
func IsEmpty(err error) bool {
	return errors.Is(err, backend.ErrEmptyResponse)
}

// Result is the outcome of a successful AskQuestion call
type Result struct {
	Reply        string
	Conversation []session.Message
}

// Conversation owns one session's settings and history. All methods are safe
// to call concurrently; calls are applied one at a time in the order they
// acquire the session.
type Conversation struct {
	mu       sync.Mutex
	adapter  backend.Adapter
	settings session.Settings
	history  []session.Message
	logger   *slog.Logger
}

// Option configures a Conversation at construction
type Option func(*Conversation)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHistory seeds the conversation with a previously stored transcript
func WithHistory(history []session.Message) Option {
	return func(c *Conversation) {
		c.history = append([]session.Message(nil), history...)
	}
}

// New creates a conversation bound to adapter. Settings are validated up front.
func New(adapter backend.Adapter, settings session.Settings, opts ...Option) (*Conversation, error) {
	if adapter == nil {
		return nil, &session.ConfigurationError{Field: "adapter", Reason: "must not be nil"}
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	c := &Conversation{
		adapter:  adapter,
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Restore resumes a stored session record
func Restore(adapter backend.Adapter, record session.Record, opts ...Option) (*Conversation, error) {
	return New(adapter, record.Settings, append([]Option{WithHistory(record.Messages)}, opts...)...)
}

type askOptions struct {
	includeHistory bool
	assistantID    *string
}

// AskOption adjusts a single AskQuestion call
type AskOption func(*askOptions)

// WithoutHistory sends the question with no prior messages
func WithoutHistory() AskOption {
	return func(o *askOptions) {
		o.includeHistory = false
	}
}

// WithAssistant overrides the session's assistant id for one call. An empty
// id forces the stateless path.
func WithAssistant(id string) AskOption {
	return func(o *askOptions) {
		o.assistantID = &id
	}
}

// AskQuestion sends question to the backend selected by the assistant id.
//
// On the stateless path the user and assistant messages are appended as one
// turn once the reply arrives. On the assistant path history is left alone,
// since the provider thread keeps its own state; use AppendTurn to record it.
func (c *Conversation) AskQuestion(ctx context.Context, instructions, question string, opts ...AskOption) (Result, error) {
	o := askOptions{includeHistory: true}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	assistantID := c.settings.AssistantID
	if o.assistantID != nil {
		assistantID = *o.assistantID
	}

	if assistantID != "" {
		c.logger.Debug("asking hosted assistant", "assistant_id", assistantID)
		reply, err := c.adapter.CompleteAssistantThread(ctx, instructions, question, assistantID)
		if err != nil {
			return Result{Conversation: c.snapshot()}, err
		}
		if strings.TrimSpace(reply) == "" {
			return Result{Conversation: c.snapshot()}, fmt.Errorf("assistant %s: %w", assistantID, backend.ErrEmptyResponse)
		}
		return Result{Reply: reply, Conversation: c.snapshot()}, nil
	}

	var prior []session.Message
	if o.includeHistory {
		prior = c.snapshot()
	}

	c.logger.Debug("asking chat completion", "model", c.settings.Model, "prior_messages", len(prior))
	reply, err := c.adapter.CompleteChat(ctx, instructions, prior, question, c.settings)
	if err != nil {
		return Result{Conversation: c.snapshot()}, err
	}
	if strings.TrimSpace(reply) == "" {
		return Result{Conversation: c.snapshot()}, fmt.Errorf("chat completion: %w", backend.ErrEmptyResponse)
	}

	c.appendTurn(question, reply)
	return Result{Reply: reply, Conversation: c.snapshot()}, nil
}

// AppendTurn records a question and its reply as one turn
func (c *Conversation) AppendTurn(question, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendTurn(question, reply)
}

func (c *Conversation) appendTurn(question, reply string) {
	c.history = append(c.history,
		session.NewMessage(session.RoleUser, question),
		session.NewMessage(session.RoleAssistant, reply),
	)
}

func (c *Conversation) snapshot() []session.Message {
	return append([]session.Message(nil), c.history...)
}

// History returns a copy of the transcript
func (c *Conversation) History() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Settings returns the current settings
func (c *Conversation) Settings() session.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SetModel changes the model used from the next call on
func (c *Conversation) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return &session.ConfigurationError{Field: "model", Reason: "must not be empty"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Model = model
	return nil
}

// SetTemperature changes the sampling temperature. Values outside [0,1] are rejected.
func (c *Conversation) SetTemperature(t float64) error {
	if err := session.ValidateTemperature(t); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Temperature = t
	return nil
}

// SetAssistant binds the session to a hosted assistant; empty unsets it
func (c *Conversation) SetAssistant(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.AssistantID = strings.TrimSpace(id)
}

// Reset clears the history and keeps the settings
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}
