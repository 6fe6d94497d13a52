package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PeopleChat/internal/session"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(id string, start time.Time, contents ...string) session.Record {
	rec := session.Record{
		ID:        id,
		StartTime: start,
		Provider:  "openai",
		Settings:  session.Settings{Model: "gpt-4o", Temperature: 0.3, AssistantID: "asst_1"},
	}
	for i, content := range contents {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		// identical timestamps must not reorder messages
		rec.Messages = append(rec.Messages, session.Message{Role: role, Content: content, Timestamp: start})
	}
	return rec
}

func TestSaveLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := testRecord("s1", start, "q1", "a1", "q2", "a2")
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, rec.Settings, got.Settings)
	assert.True(t, start.Equal(got.StartTime))
	require.Len(t, got.Messages, 4)
	for i, msg := range got.Messages {
		assert.Equal(t, rec.Messages[i].Role, msg.Role)
		assert.Equal(t, rec.Messages[i].Content, msg.Content)
	}
}

func TestSave_ReplacesMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC()

	require.NoError(t, s.Save(ctx, testRecord("s1", start, "q1", "a1")))
	require.NoError(t, s.Save(ctx, testRecord("s1", start, "q1", "a1", "q2", "a2")))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 4)

	require.NoError(t, s.Save(ctx, testRecord("s1", start)))
	got, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := openTestStore(t).Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	require.NoError(t, s.Save(ctx, testRecord("old", older, "q")))
	require.NoError(t, s.Save(ctx, testRecord("new", newer, "q", "a", "q2")))

	summaries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "new", summaries[0].ID)
	assert.Equal(t, 3, summaries[0].MessageCount)
	assert.Equal(t, "old", summaries[1].ID)
	assert.Equal(t, "gpt-4o", summaries[1].Model)
}
