package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"PeopleChat/internal/backend"
	"PeopleChat/internal/config"
	"PeopleChat/internal/conversation"
	"PeopleChat/internal/session"
	"PeopleChat/internal/store"
)

const defaultSpeechFile = "speech.mp3"

// SessionStore persists transcripts between runs
type SessionStore interface {
	Save(ctx context.Context, rec session.Record) error
	Load(ctx context.Context, id string) (session.Record, error)
	List(ctx context.Context) ([]store.Summary, error)
}

// Deps are the ChatBot's collaborators. Everything except Adapter is optional.
type Deps struct {
	Adapter     backend.Adapter
	Speaker     backend.Speaker
	Transcriber backend.Transcriber
	Models      backend.ModelLister
	Store       SessionStore
	Logger      *slog.Logger
	In          io.Reader
	Out         io.Writer
	SpeechFile  string
}

// ChatBot represents the interactive chat application
type ChatBot struct {
	config       *config.Config
	deps         Deps
	logger       *slog.Logger
	in           *bufio.Scanner
	out          io.Writer
	conv         *conversation.Conversation
	record       session.Record
	instructions string
	last         conversation.Exchange
}

// NewChatBot creates a ChatBot, resuming cfg.SessionID from the store when set
func NewChatBot(ctx context.Context, cfg *config.Config, deps Deps) (*ChatBot, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.In == nil {
		deps.In = os.Stdin
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.SpeechFile == "" {
		deps.SpeechFile = defaultSpeechFile
	}

	cb := &ChatBot{
		config:       cfg,
		deps:         deps,
		logger:       deps.Logger,
		in:           bufio.NewScanner(deps.In),
		out:          deps.Out,
		instructions: cfg.Instructions,
	}

	if cfg.SessionID != "" && deps.Store != nil {
		rec, err := deps.Store.Load(ctx, cfg.SessionID)
		if err != nil {
			cb.logger.Warn("failed to load session, creating new one", "session_id", cfg.SessionID, "error", err)
		} else {
			conv, err := conversation.Restore(deps.Adapter, rec, conversation.WithLogger(cb.logger))
			if err != nil {
				return nil, fmt.Errorf("failed to restore session: %w", err)
			}
			cb.conv = conv
			cb.record = rec
			cb.logger.Info("loaded existing session", "session_id", rec.ID, "messages", len(rec.Messages))
			return cb, nil
		}
	}

	if err := cb.newSession(); err != nil {
		return nil, err
	}
	return cb, nil
}

// newSession starts an empty conversation with the configured settings
func (cb *ChatBot) newSession() error {
	conv, err := conversation.New(cb.deps.Adapter, cb.config.Settings(), conversation.WithLogger(cb.logger))
	if err != nil {
		return err
	}
	cb.conv = conv
	cb.last = conversation.Exchange{}
	cb.record = session.Record{
		ID:        "session_" + uuid.NewString(),
		StartTime: time.Now(),
		Provider:  cb.config.Provider,
	}
	cb.logger.Info("created new session", "session_id", cb.record.ID, "provider", cb.config.Provider)
	return nil
}

// SessionID returns the id the transcript is stored under
func (cb *ChatBot) SessionID() string {
	return cb.record.ID
}

// saveSession saves the current session to the store
func (cb *ChatBot) saveSession(ctx context.Context) error {
	if cb.deps.Store == nil {
		return nil
	}
	rec := cb.record
	rec.Settings = cb.conv.Settings()
	rec.Messages = cb.conv.History()

	if err := cb.deps.Store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	cb.logger.Debug("session saved", "session_id", rec.ID, "message_count", len(rec.Messages))
	return nil
}

func (cb *ChatBot) printf(format string, args ...any) {
	fmt.Fprintf(cb.out, format, args...)
}

// readLine prints prompt and reads one trimmed line; ok is false at end of input
func (cb *ChatBot) readLine(prompt string) (string, bool) {
	cb.printf("%s", prompt)
	if !cb.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(cb.in.Text()), true
}

// ask sends question as a new turn. Hosted assistant replies are recorded
// explicitly so the stored transcript stays complete.
func (cb *ChatBot) ask(ctx context.Context, question string) error {
	result, err := cb.conv.AskQuestion(ctx, cb.instructions, question)
	if err != nil {
		return err
	}
	if cb.conv.Settings().AssistantID != "" {
		cb.conv.AppendTurn(question, result.Reply)
	}

	cb.last = conversation.Exchange{Question: question, Answer: result.Reply}
	cb.printf("Bot: %s\n\n", result.Reply)

	if err := cb.saveSession(ctx); err != nil {
		cb.logger.Error("failed to save session", "error", err)
	}
	return nil
}

// followupLoop offers follow-ups to the last exchange until the user skips
// or input ends
func (cb *ChatBot) followupLoop(ctx context.Context) {
	for cb.last.Question != "" {
		followups, err := cb.conv.GenerateFollowups(ctx, cb.last.Question, cb.last.Answer,
			cb.config.Followups.Count, cb.config.Followups.MaxWords)
		if err != nil {
			cb.reportError("failed to generate follow-ups", err)
			return
		}

		cb.printf("Follow-up questions:\n")
		for i, q := range followups {
			cb.printf("%d. %s\n", i+1, q)
		}
		cb.printf("0. Skip\n")

		for {
			choice, ok := cb.readLine("Choose a follow-up: ")
			if !ok {
				return
			}

			_, skip, _ := conversation.ParseSelection(choice, len(followups))
			next, err := cb.conv.ChooseFollowup(ctx, cb.instructions, cb.last, followups, choice)
			var selErr *conversation.InvalidSelectionError
			if errors.As(err, &selErr) {
				cb.printf("%v\n", selErr)
				continue
			}
			if err != nil {
				cb.reportError("failed to ask follow-up", err)
				return
			}
			if skip {
				cb.printf("\n")
				return
			}

			if cb.conv.Settings().AssistantID != "" {
				cb.conv.AppendTurn(next.Question, next.Answer)
			}
			cb.last = next
			cb.printf("You: %s\nBot: %s\n\n", next.Question, next.Answer)
			if err := cb.saveSession(ctx); err != nil {
				cb.logger.Error("failed to save session", "error", err)
			}
			break
		}
	}
}

func (cb *ChatBot) reportError(msg string, err error) {
	if conversation.IsEmpty(err) {
		cb.printf("No answer was produced, please try again.\n\n")
		cb.logger.Warn(msg, "error", err)
		return
	}
	cb.printf("Error: %v\n\n", err)
	cb.logger.Error(msg, "error", err)
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new-session":
		if err := cb.saveSession(ctx); err != nil {
			cb.logger.Error("failed to save current session", "error", err)
		}
		if err := cb.newSession(); err != nil {
			return false, err
		}
		cb.printf("Started new session: %s\n", cb.record.ID)
		return false, nil

	case "/model":
		if rest == "" {
			cb.printf("Model: %s\n", cb.conv.Settings().Model)
			return false, nil
		}
		if err := cb.conv.SetModel(rest); err != nil {
			return false, err
		}
		cb.printf("Model set to: %s\n", rest)
		return false, nil

	case "/temperature":
		if rest == "" {
			cb.printf("Temperature: %.2f\n", cb.conv.Settings().Temperature)
			return false, nil
		}
		t, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return false, fmt.Errorf("usage: /temperature <0..1>")
		}
		if err := cb.conv.SetTemperature(t); err != nil {
			return false, err
		}
		cb.printf("Temperature set to: %.2f\n", t)
		return false, nil

	case "/assistant":
		if rest == "" {
			return false, fmt.Errorf("usage: /assistant <id|off>")
		}
		if rest == "off" {
			cb.conv.SetAssistant("")
			cb.printf("Hosted assistant disabled, using chat completions\n")
			return false, nil
		}
		if cb.config.Provider != config.ProviderOpenAI {
			return false, &session.ConfigurationError{Field: "assistant_id", Reason: "hosted assistants require the openai provider"}
		}
		cb.conv.SetAssistant(rest)
		cb.printf("Using hosted assistant: %s\n", rest)
		return false, nil

	case "/instructions":
		if rest == "" {
			cb.printf("Instructions: %s\n", cb.instructions)
			return false, nil
		}
		cb.instructions = rest
		cb.printf("Instructions updated\n")
		return false, nil

	case "/generate":
		if rest == "" {
			return false, fmt.Errorf("usage: /generate <context>")
		}
		return false, cb.generate(ctx, rest)

	case "/list":
		if len(parts) < 4 {
			return false, fmt.Errorf("usage: /list <count> <max words> <description>")
		}
		count, err1 := strconv.Atoi(parts[1])
		words, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			return false, fmt.Errorf("usage: /list <count> <max words> <description>")
		}
		items, err := cb.conv.GenerateList(ctx, strings.Join(parts[3:], " "), count, words)
		if err != nil {
			return false, err
		}
		for i, item := range items {
			cb.printf("%d. %s\n", i+1, item)
		}
		cb.printf("\n")
		return false, nil

	case "/history":
		history := cb.conv.History()
		if len(history) == 0 {
			cb.printf("No messages yet.\n")
			return false, nil
		}
		for _, msg := range history {
			cb.printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Role, msg.Content)
		}
		cb.printf("\n")
		return false, nil

	case "/sessions":
		if cb.deps.Store == nil {
			return false, fmt.Errorf("no session store configured")
		}
		summaries, err := cb.deps.Store.List(ctx)
		if err != nil {
			return false, err
		}
		for _, sum := range summaries {
			marker := ""
			if sum.ID == cb.record.ID {
				marker = " (current)"
			}
			cb.printf("%s  %s  %s/%s  %d messages%s\n", sum.ID, sum.StartTime.Format("2006-01-02 15:04"),
				sum.Provider, sum.Model, sum.MessageCount, marker)
		}
		cb.printf("\n")
		return false, nil

	case "/speak":
		if cb.deps.Speaker == nil {
			return false, fmt.Errorf("text to speech is not supported by the %s provider", cb.config.Provider)
		}
		if cb.last.Answer == "" {
			return false, fmt.Errorf("nothing to speak yet")
		}
		audio, err := cb.deps.Speaker.TextToSpeech(ctx, cb.last.Answer, cb.config.Voice)
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(cb.deps.SpeechFile, audio, 0644); err != nil {
			return false, fmt.Errorf("failed to write audio: %w", err)
		}
		cb.printf("Saved speech to %s\n", cb.deps.SpeechFile)
		return false, nil

	case "/transcribe":
		if cb.deps.Transcriber == nil {
			return false, fmt.Errorf("speech to text is not supported by the %s provider", cb.config.Provider)
		}
		if rest == "" {
			return false, fmt.Errorf("usage: /transcribe <audio file>")
		}
		text, err := cb.deps.Transcriber.SpeechToText(ctx, rest)
		if err != nil {
			return false, err
		}
		cb.printf("You (transcribed): %s\n", text)
		if err := cb.ask(ctx, text); err != nil {
			return false, err
		}
		cb.followupLoop(ctx)
		return false, nil

	case "/models":
		if cb.deps.Models == nil {
			return false, fmt.Errorf("listing models is only supported by the ollama provider")
		}
		models, err := cb.deps.Models.ListModels(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list models: %w", err)
		}
		cb.printf("\nAvailable models:\n")
		current := cb.conv.Settings().Model
		for i, model := range models {
			sizeGB := float64(model.Size) / (1024 * 1024 * 1024)
			marker := ""
			if model.Name == current {
				marker = " (current)"
			}
			cb.printf("%d. %s - %.2f GB%s\n", i+1, model.Name, sizeGB, marker)
		}
		cb.printf("\n")
		return false, nil

	case "/help":
		cb.printf("Available commands:\n")
		cb.printf("  /quit, /exit                  - Exit the chatbot\n")
		cb.printf("  /new-session                  - Start a new chat session\n")
		cb.printf("  /model [name]                 - Show or set the model\n")
		cb.printf("  /temperature [t]              - Show or set the temperature (0..1)\n")
		cb.printf("  /assistant <id|off>           - Use a hosted assistant, or go back to chat\n")
		cb.printf("  /instructions [text]          - Show or set the system instructions\n")
		cb.printf("  /generate <context>           - Generate sample prompts and pick one to ask\n")
		cb.printf("  /list <n> <words> <desc>      - Generate a list of n items\n")
		cb.printf("  /history                      - Show the conversation so far\n")
		cb.printf("  /sessions                     - List saved sessions (resume with --session-id)\n")
		cb.printf("  /speak                        - Save the last answer as speech\n")
		cb.printf("  /transcribe <file>            - Ask the question spoken in an audio file\n")
		cb.printf("  /models                       - List local models (ollama)\n")
		cb.printf("  /help                         - Show this help message\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s, type /help", parts[0])
	}
}

// generate shows sample prompts for contextText and asks the one picked
func (cb *ChatBot) generate(ctx context.Context, contextText string) error {
	prompts, err := cb.conv.GenerateSamplePrompts(ctx, contextText, cb.config.Samples.Count, cb.config.Followups.MaxWords)
	if err != nil {
		return err
	}

	cb.printf("Sample prompts:\n")
	for i, p := range prompts {
		cb.printf("%d. %s\n", i+1, p)
	}
	cb.printf("0. Skip\n")

	for {
		choice, ok := cb.readLine("Choose a prompt: ")
		if !ok {
			return nil
		}
		index, skip, err := conversation.ParseSelection(choice, len(prompts))
		if err != nil {
			cb.printf("%v\n", err)
			continue
		}
		if skip {
			return nil
		}
		cb.printf("You: %s\n", prompts[index])
		if err := cb.ask(ctx, prompts[index]); err != nil {
			return err
		}
		cb.followupLoop(ctx)
		return nil
	}
}

// Run starts the chat loop and returns when input ends, the user quits or ctx is canceled
func (cb *ChatBot) Run(ctx context.Context) error {
	cb.printf("=== PeopleChat ===\n")
	cb.printf("Session: %s\n", cb.record.ID)
	settings := cb.conv.Settings()
	cb.printf("Provider: %s  Model: %s\n", cb.config.Provider, settings.Model)
	if settings.AssistantID != "" {
		cb.printf("Assistant: %s\n", settings.AssistantID)
	}
	cb.printf("Type /help for commands, /quit to exit\n\n")

	for ctx.Err() == nil {
		input, ok := cb.readLine("You: ")
		if !ok {
			break
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				cb.reportError("command error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if err := cb.ask(ctx, input); err != nil {
			cb.reportError("failed to send message", err)
			continue
		}
		cb.followupLoop(ctx)
	}

	// save even when ctx was canceled
	if err := cb.saveSession(context.WithoutCancel(ctx)); err != nil {
		cb.logger.Error("failed to save session on exit", "error", err)
		return err
	}

	cb.printf("Goodbye!\n")
	return nil
}
