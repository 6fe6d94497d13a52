package chatbot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PeopleChat/internal/backend"
	"PeopleChat/internal/config"
	"PeopleChat/internal/session"
	"PeopleChat/internal/store"
)

type fakeAdapter struct {
	mu             sync.Mutex
	assistantCalls int
	empty          bool
}

func (f *fakeAdapter) CompleteChat(_ context.Context, instructions string, _ []session.Message, newUserText string, _ session.Settings) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.empty {
		return "", backend.ErrEmptyResponse
	}
	switch {
	case strings.Contains(instructions, "follow-up questions"):
		return "Follow one?\nFollow two?", nil
	case strings.Contains(instructions, "sample prompts"):
		return "Sample one?", nil
	case strings.Contains(instructions, "delimiter"):
		return "red %% green %% blue", nil
	}
	return "echo: " + newUserText, nil
}

func (f *fakeAdapter) CompleteAssistantThread(_ context.Context, _, newUserText, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistantCalls++
	return "assistant: " + newUserText, nil
}

type memStore struct {
	records map[string]session.Record
	saves   int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]session.Record{}}
}

func (m *memStore) Save(_ context.Context, rec session.Record) error {
	m.saves++
	m.records[rec.ID] = rec
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (session.Record, error) {
	rec, ok := m.records[id]
	if !ok {
		return session.Record{}, fmt.Errorf("session %s not found", id)
	}
	return rec, nil
}

func (m *memStore) List(_ context.Context) ([]store.Summary, error) {
	var out []store.Summary
	for _, rec := range m.records {
		out = append(out, store.Summary{ID: rec.ID, StartTime: rec.StartTime, Provider: rec.Provider,
			Model: rec.Settings.Model, MessageCount: len(rec.Messages)})
	}
	return out, nil
}

type fakeAudio struct{}

func (fakeAudio) TextToSpeech(_ context.Context, text, voice string) ([]byte, error) {
	return []byte(voice + ":" + text), nil
}

func (fakeAudio) SpeechToText(_ context.Context, path string) (string, error) {
	return "spoken " + filepath.Base(path), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Provider:     config.ProviderOpenAI,
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		Instructions: "be brief",
		Voice:        "alloy",
		Followups:    config.FollowupConfig{Count: 3, MaxWords: 25},
		Samples:      config.SampleConfig{Count: 1},
	}
}

func runBot(t *testing.T, cfg *config.Config, deps Deps, input string) (*ChatBot, string) {
	t.Helper()
	var out bytes.Buffer
	deps.In = strings.NewReader(input)
	deps.Out = &out
	cb, err := NewChatBot(context.Background(), cfg, deps)
	require.NoError(t, err)
	require.NoError(t, cb.Run(context.Background()))
	return cb, out.String()
}

func TestChatBot_AskAndChooseFollowup(t *testing.T) {
	st := newMemStore()
	cb, out := runBot(t, testConfig(), Deps{Adapter: &fakeAdapter{}, Store: st}, "hello\n2\n0\n/quit\n")

	assert.Contains(t, out, "Bot: echo: hello")
	assert.Contains(t, out, "1. Follow one?")
	assert.Contains(t, out, "0. Skip")
	assert.Contains(t, out, "You: Follow two?\nBot: echo: Follow two?")
	assert.Contains(t, out, "Goodbye!")

	rec, ok := st.records[cb.SessionID()]
	require.True(t, ok)
	require.Len(t, rec.Messages, 4)
	assert.Equal(t, "hello", rec.Messages[0].Content)
	assert.Equal(t, session.RoleAssistant, rec.Messages[3].Role)
	assert.Equal(t, "gpt-4o-mini", rec.Settings.Model)
	assert.Equal(t, config.ProviderOpenAI, rec.Provider)
	assert.True(t, strings.HasPrefix(rec.ID, "session_"))
}

func TestChatBot_InvalidSelectionReprompts(t *testing.T) {
	cb, out := runBot(t, testConfig(), Deps{Adapter: &fakeAdapter{}}, "hello\n9\nabc\n0\n")

	assert.Equal(t, 2, strings.Count(out, "invalid selection"))
	assert.Len(t, cb.conv.History(), 2)
}

func TestChatBot_EmptyResponse(t *testing.T) {
	cb, out := runBot(t, testConfig(), Deps{Adapter: &fakeAdapter{empty: true}}, "hello\n")

	assert.Contains(t, out, "No answer was produced")
	assert.Empty(t, cb.conv.History())
}

func TestChatBot_AssistantTurnsAreRecorded(t *testing.T) {
	cfg := testConfig()
	cfg.AssistantID = "asst_1"
	adapter := &fakeAdapter{}
	cb, out := runBot(t, cfg, Deps{Adapter: adapter}, "hi\n0\n")

	assert.Contains(t, out, "Assistant: asst_1")
	assert.Contains(t, out, "Bot: assistant: hi")
	history := cb.conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, "assistant: hi", history[1].Content)
	// question plus follow-up generation
	assert.Equal(t, 2, adapter.assistantCalls)
}

func TestChatBot_ResumeSession(t *testing.T) {
	st := newMemStore()
	now := time.Now()
	st.records["session_old"] = session.Record{
		ID:        "session_old",
		StartTime: now,
		Provider:  config.ProviderOpenAI,
		Settings:  session.Settings{Model: "gpt-4o", Temperature: 0.2},
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "earlier", Timestamp: now},
			{Role: session.RoleAssistant, Content: "reply", Timestamp: now},
		},
	}

	cfg := testConfig()
	cfg.SessionID = "session_old"
	cb, out := runBot(t, cfg, Deps{Adapter: &fakeAdapter{}, Store: st}, "/history\n")

	assert.Equal(t, "session_old", cb.SessionID())
	assert.Contains(t, out, "Model: gpt-4o")
	assert.Contains(t, out, "user: earlier")
	assert.Contains(t, out, "assistant: reply")
}

func TestChatBot_ResumeMissingSessionStartsNew(t *testing.T) {
	cfg := testConfig()
	cfg.SessionID = "nope"
	cb, err := NewChatBot(context.Background(), cfg, Deps{Adapter: &fakeAdapter{}, Store: newMemStore(), Out: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.NotEqual(t, "nope", cb.SessionID())
}

func TestChatBot_SettingsCommands(t *testing.T) {
	input := strings.Join([]string{
		"/model gpt-4o",
		"/temperature 0.3",
		"/temperature 2",
		"/temperature hot",
		"/assistant asst_9",
		"/assistant off",
		"/instructions talk like a pirate",
		"/instructions",
		"/bogus",
		"/quit",
	}, "\n")
	cb, out := runBot(t, testConfig(), Deps{Adapter: &fakeAdapter{}}, input)

	settings := cb.conv.Settings()
	assert.Equal(t, "gpt-4o", settings.Model)
	assert.Equal(t, 0.3, settings.Temperature)
	assert.Empty(t, settings.AssistantID)
	assert.Equal(t, "talk like a pirate", cb.instructions)

	assert.Contains(t, out, "Model set to: gpt-4o")
	assert.Contains(t, out, "temperature")
	assert.Contains(t, out, "usage: /temperature")
	assert.Contains(t, out, "Using hosted assistant: asst_9")
	assert.Contains(t, out, "Instructions: talk like a pirate")
	assert.Contains(t, out, "unknown command /bogus")
}

func TestChatBot_AssistantRequiresOpenAI(t *testing.T) {
	cfg := testConfig()
	cfg.Provider = config.ProviderOllama
	cb, out := runBot(t, cfg, Deps{Adapter: &fakeAdapter{}}, "/assistant asst_1\n")

	assert.Contains(t, out, "hosted assistants require the openai provider")
	assert.Empty(t, cb.conv.Settings().AssistantID)
}

func TestChatBot_ListAndGenerate(t *testing.T) {
	cb, out := runBot(t, testConfig(), Deps{Adapter: &fakeAdapter{}}, "/list 3 5 colors\n/generate cooking\n1\n0\n/quit\n")

	assert.Contains(t, out, "1. red\n2. green\n3. blue")
	assert.Contains(t, out, "1. Sample one?")
	assert.Contains(t, out, "Bot: echo: Sample one?")
	assert.Len(t, cb.conv.History(), 2)
}

func TestChatBot_NewSession(t *testing.T) {
	st := newMemStore()
	cb, out := runBot(t, testConfig(), Deps{Adapter: &fakeAdapter{}, Store: st}, "hello\n0\n/new-session\n/quit\n")

	assert.Contains(t, out, "Started new session: "+cb.SessionID())
	assert.Empty(t, cb.conv.History())
	assert.Len(t, st.records, 2)
}

func TestChatBot_SessionsWithSQLiteStore(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cb, out := runBot(t, testConfig(), Deps{Adapter: &fakeAdapter{}, Store: db}, "hello\n0\n/sessions\n/quit\n")

	assert.Contains(t, out, cb.SessionID()+"  ")
	assert.Contains(t, out, "openai/gpt-4o-mini  2 messages (current)")

	rec, err := db.Load(context.Background(), cb.SessionID())
	require.NoError(t, err)
	assert.Len(t, rec.Messages, 2)
}

func TestChatBot_Audio(t *testing.T) {
	speech := filepath.Join(t.TempDir(), "out.mp3")
	deps := Deps{Adapter: &fakeAdapter{}, Speaker: fakeAudio{}, Transcriber: fakeAudio{}, SpeechFile: speech}
	_, out := runBot(t, testConfig(), deps, "/speak\nhello\n0\n/speak\n/transcribe clip.wav\n0\n")

	assert.Contains(t, out, "nothing to speak yet")
	assert.Contains(t, out, "Saved speech to "+speech)
	data, err := os.ReadFile(speech)
	require.NoError(t, err)
	assert.Equal(t, "alloy:echo: hello", string(data))

	assert.Contains(t, out, "You (transcribed): spoken clip.wav")
	assert.Contains(t, out, "Bot: echo: spoken clip.wav")
}

func TestChatBot_UnsupportedFeatures(t *testing.T) {
	cfg := testConfig()
	cfg.Provider = config.ProviderAnthropic
	_, out := runBot(t, cfg, Deps{Adapter: &fakeAdapter{}}, "/speak\n/transcribe a.wav\n/models\n")

	assert.Contains(t, out, "text to speech is not supported by the anthropic provider")
	assert.Contains(t, out, "speech to text is not supported by the anthropic provider")
	assert.Contains(t, out, "listing models is only supported by the ollama provider")
}

type fakeModels struct{}

func (fakeModels) ListModels(context.Context) ([]backend.OllamaModel, error) {
	return []backend.OllamaModel{{Name: "gpt-4o-mini", Size: 2 << 30}, {Name: "mistral", Size: 1 << 30}}, nil
}

func TestChatBot_Models(t *testing.T) {
	_, out := runBot(t, testConfig(), Deps{Adapter: &fakeAdapter{}, Models: fakeModels{}}, "/models\n")

	assert.Contains(t, out, "1. gpt-4o-mini - 2.00 GB (current)")
	assert.Contains(t, out, "2. mistral - 1.00 GB\n")
}

func TestChatBot_CanceledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := newMemStore()
	cb, err := NewChatBot(ctx, testConfig(), Deps{Adapter: &fakeAdapter{}, Store: st, In: strings.NewReader("hello\n"), Out: &bytes.Buffer{}})
	require.NoError(t, err)
	require.NoError(t, cb.Run(ctx))

	assert.Empty(t, cb.conv.History())
	assert.Equal(t, 1, st.saves)
}
