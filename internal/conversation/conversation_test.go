package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PeopleChat/internal/backend"
	"PeopleChat/internal/session"
)

type chatCall struct {
	Instructions string
	Prior        []session.Message
	UserText     string
	Settings     session.Settings
}

type assistantCall struct {
	Instructions string
	UserText     string
	AssistantID  string
}

// spyAdapter records every call and answers from reply, or err when set
type spyAdapter struct {
	mu             sync.Mutex
	chatCalls      []chatCall
	assistantCalls []assistantCall
	reply          func(userText string) string
	err            error
}

func newSpy() *spyAdapter {
	return &spyAdapter{reply: func(userText string) string { return "answer to " + userText }}
}

func (s *spyAdapter) CompleteChat(_ context.Context, instructions string, prior []session.Message, newUserText string, settings session.Settings) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatCalls = append(s.chatCalls, chatCall{
		Instructions: instructions,
		Prior:        append([]session.Message(nil), prior...),
		UserText:     newUserText,
		Settings:     settings,
	})
	if s.err != nil {
		return "", s.err
	}
	return s.reply(newUserText), nil
}

func (s *spyAdapter) CompleteAssistantThread(_ context.Context, instructions, newUserText, assistantID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistantCalls = append(s.assistantCalls, assistantCall{
		Instructions: instructions,
		UserText:     newUserText,
		AssistantID:  assistantID,
	})
	if s.err != nil {
		return "", s.err
	}
	return s.reply(newUserText), nil
}

func defaultSettings() session.Settings {
	return session.Settings{Model: "gpt-4o-mini", Temperature: 0.7}
}

func newConversation(t *testing.T, adapter backend.Adapter, settings session.Settings) *Conversation {
	t.Helper()
	conv, err := New(adapter, settings)
	require.NoError(t, err)
	return conv
}

func TestNew_ValidatesSettings(t *testing.T) {
	_, err := New(newSpy(), session.Settings{Model: "m", Temperature: 2})
	var cfgErr *session.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "temperature", cfgErr.Field)

	_, err = New(nil, defaultSettings())
	assert.ErrorAs(t, err, &cfgErr)
}

func TestAskQuestion_HistoryMonotonicity(t *testing.T) {
	spy := newSpy()
	conv := newConversation(t, spy, defaultSettings())

	questions := []string{"one", "two", "three", "four"}
	for i, q := range questions {
		result, err := conv.AskQuestion(context.Background(), "be brief", q)
		require.NoError(t, err)
		assert.Equal(t, "answer to "+q, result.Reply)
		assert.Len(t, result.Conversation, 2*(i+1))

		// the Nth call sees exactly the turns before it
		assert.Len(t, spy.chatCalls[i].Prior, 2*i)
	}

	history := conv.History()
	require.Len(t, history, 2*len(questions))
	for i, q := range questions {
		assert.Equal(t, session.RoleUser, history[2*i].Role)
		assert.Equal(t, q, history[2*i].Content)
		assert.Equal(t, session.RoleAssistant, history[2*i+1].Role)
		assert.Equal(t, "answer to "+q, history[2*i+1].Content)
	}
}

func TestAskQuestion_RequestShape(t *testing.T) {
	spy := newSpy()
	conv := newConversation(t, spy, defaultSettings())

	_, err := conv.AskQuestion(context.Background(), "be brief", "first")
	require.NoError(t, err)
	_, err = conv.AskQuestion(context.Background(), "be brief", "second")
	require.NoError(t, err)

	call := spy.chatCalls[1]
	assert.Equal(t, "be brief", call.Instructions)
	assert.Equal(t, "second", call.UserText)
	require.Len(t, call.Prior, 2)
	assert.Equal(t, "first", call.Prior[0].Content)
	assert.Equal(t, defaultSettings(), call.Settings)

	for _, msg := range conv.History() {
		assert.NotEqual(t, session.RoleSystem, msg.Role)
	}
}

func TestAskQuestion_WithoutHistory(t *testing.T) {
	spy := newSpy()
	conv := newConversation(t, spy, defaultSettings())

	_, err := conv.AskQuestion(context.Background(), "", "first")
	require.NoError(t, err)
	result, err := conv.AskQuestion(context.Background(), "", "second", WithoutHistory())
	require.NoError(t, err)

	assert.Empty(t, spy.chatCalls[1].Prior)
	assert.Len(t, result.Conversation, 4)
}

func TestAskQuestion_HistoryIsolation(t *testing.T) {
	spy := newSpy()
	first := newConversation(t, spy, defaultSettings())
	second := newConversation(t, spy, defaultSettings())

	_, err := first.AskQuestion(context.Background(), "", "only in first")
	require.NoError(t, err)
	_, err = second.AskQuestion(context.Background(), "", "only in second")
	require.NoError(t, err)

	assert.Empty(t, spy.chatCalls[1].Prior)
	require.Len(t, first.History(), 2)
	require.Len(t, second.History(), 2)
	assert.Equal(t, "only in first", first.History()[0].Content)
	assert.Equal(t, "only in second", second.History()[0].Content)
}

func TestHistory_ReturnsCopy(t *testing.T) {
	conv := newConversation(t, newSpy(), defaultSettings())
	result, err := conv.AskQuestion(context.Background(), "", "q")
	require.NoError(t, err)

	result.Conversation[0].Content = "tampered"
	history := conv.History()
	history[1].Content = "tampered"

	assert.Equal(t, "q", conv.History()[0].Content)
	assert.Equal(t, "answer to q", conv.History()[1].Content)
}

func TestAskQuestion_BackendSelection(t *testing.T) {
	spy := newSpy()
	settings := defaultSettings()
	settings.AssistantID = "asst_1"
	conv := newConversation(t, spy, settings)

	result, err := conv.AskQuestion(context.Background(), "guide", "via assistant")
	require.NoError(t, err)
	assert.Equal(t, "answer to via assistant", result.Reply)
	require.Len(t, spy.assistantCalls, 1)
	assert.Empty(t, spy.chatCalls)
	assert.Equal(t, assistantCall{Instructions: "guide", UserText: "via assistant", AssistantID: "asst_1"}, spy.assistantCalls[0])
	assert.Empty(t, result.Conversation, "assistant replies are not appended")

	conv.SetAssistant("")
	_, err = conv.AskQuestion(context.Background(), "guide", "via chat")
	require.NoError(t, err)
	assert.Len(t, spy.assistantCalls, 1)
	require.Len(t, spy.chatCalls, 1)
	assert.Equal(t, "via chat", spy.chatCalls[0].UserText)
}

func TestAskQuestion_PerCallAssistantOverride(t *testing.T) {
	spy := newSpy()
	settings := defaultSettings()
	settings.AssistantID = "asst_session"
	conv := newConversation(t, spy, settings)

	_, err := conv.AskQuestion(context.Background(), "", "q1", WithAssistant("asst_call"))
	require.NoError(t, err)
	_, err = conv.AskQuestion(context.Background(), "", "q2", WithAssistant(""))
	require.NoError(t, err)

	require.Len(t, spy.assistantCalls, 1)
	assert.Equal(t, "asst_call", spy.assistantCalls[0].AssistantID)
	require.Len(t, spy.chatCalls, 1)
	assert.Equal(t, "asst_session", conv.Settings().AssistantID)
}

func TestAppendTurn(t *testing.T) {
	settings := defaultSettings()
	settings.AssistantID = "asst_1"
	conv := newConversation(t, newSpy(), settings)

	result, err := conv.AskQuestion(context.Background(), "", "q")
	require.NoError(t, err)
	conv.AppendTurn("q", result.Reply)

	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
}

func TestAskQuestion_FailuresLeaveHistory(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		reply     string
		wantEmpty bool
	}{
		{name: "backend error", err: &backend.BackendError{Op: "chat", StatusCode: 401}},
		{name: "empty response", err: fmt.Errorf("chat: %w", backend.ErrEmptyResponse), wantEmpty: true},
		{name: "blank reply", reply: "   ", wantEmpty: true},
		{name: "run timeout", err: &backend.TimeoutError{RunID: "run_1"}, wantEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpy()
			conv := newConversation(t, spy, defaultSettings())
			_, err := conv.AskQuestion(context.Background(), "", "kept")
			require.NoError(t, err)
			before := conv.History()

			spy.err = tt.err
			spy.reply = func(string) string { return tt.reply }

			result, err := conv.AskQuestion(context.Background(), "", "lost")
			require.Error(t, err)
			assert.Empty(t, result.Reply)
			assert.Equal(t, tt.wantEmpty, IsEmpty(err))
			assert.Equal(t, before, conv.History())
			assert.Equal(t, before, result.Conversation)
		})
	}
}

func TestAskQuestion_BackendErrorPropagates(t *testing.T) {
	spy := newSpy()
	spy.err = &backend.BackendError{Op: "chat", StatusCode: 429}
	conv := newConversation(t, spy, defaultSettings())

	_, err := conv.AskQuestion(context.Background(), "", "q")
	var backendErr *backend.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, 429, backendErr.StatusCode)
}

func TestSetTemperature(t *testing.T) {
	spy := newSpy()
	conv := newConversation(t, spy, defaultSettings())

	err := conv.SetTemperature(1.5)
	var cfgErr *session.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 0.7, conv.Settings().Temperature)

	require.Error(t, conv.SetTemperature(-0.01))
	require.NoError(t, conv.SetTemperature(0.3))

	_, err = conv.AskQuestion(context.Background(), "", "q")
	require.NoError(t, err)
	assert.Equal(t, 0.3, spy.chatCalls[0].Settings.Temperature)
}

func TestSetModel(t *testing.T) {
	spy := newSpy()
	conv := newConversation(t, spy, defaultSettings())

	assert.Error(t, conv.SetModel("  "))
	require.NoError(t, conv.SetModel("gpt-4o"))

	_, err := conv.AskQuestion(context.Background(), "", "q")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", spy.chatCalls[0].Settings.Model)
}

func TestReset(t *testing.T) {
	conv := newConversation(t, newSpy(), defaultSettings())
	_, err := conv.AskQuestion(context.Background(), "", "q")
	require.NoError(t, err)

	conv.Reset()
	assert.Empty(t, conv.History())
	assert.Equal(t, defaultSettings(), conv.Settings())
}

func TestRestore(t *testing.T) {
	record := session.Record{
		ID:       "abc",
		Settings: defaultSettings(),
		Messages: []session.Message{
			session.NewMessage(session.RoleUser, "old q"),
			session.NewMessage(session.RoleAssistant, "old a"),
		},
	}
	spy := newSpy()
	conv, err := Restore(spy, record)
	require.NoError(t, err)

	_, err = conv.AskQuestion(context.Background(), "", "new q")
	require.NoError(t, err)
	assert.Equal(t, record.Messages, spy.chatCalls[0].Prior)
	assert.Len(t, conv.History(), 4)
}

func TestAskQuestion_ConcurrentCallsKeepTurnsWhole(t *testing.T) {
	conv := newConversation(t, newSpy(), defaultSettings())

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := conv.AskQuestion(context.Background(), "", fmt.Sprintf("q%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history := conv.History()
	require.Len(t, history, 2*callers)
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, session.RoleUser, history[i].Role)
		assert.Equal(t, "answer to "+history[i].Content, history[i+1].Content)
	}
}

func TestAskQuestion_ContextCanceled(t *testing.T) {
	spy := newSpy()
	spy.err = &backend.BackendError{Op: "chat", Err: context.Canceled}
	conv := newConversation(t, spy, defaultSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := conv.AskQuestion(ctx, "", "q")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, conv.History())
}
