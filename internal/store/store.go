package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"PeopleChat/internal/session"
)

// ErrNotFound is returned when no session has the requested id
var ErrNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	start_time DATETIME,
	provider TEXT,
	model TEXT,
	temperature REAL,
	assistant_id TEXT
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	seq INTEGER,
	role TEXT,
	content TEXT,
	timestamp DATETIME,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);`

// Summary describes a stored session without its messages
type Summary struct {
	ID           string
	StartTime    time.Time
	Provider     string
	Model        string
	MessageCount int
}

// SQLiteStore persists session transcripts in a sqlite database
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the connection pool so other components can share the file
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save writes the record, replacing any messages stored for it before
func (s *SQLiteStore) Save(ctx context.Context, rec session.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, start_time, provider, model, temperature, assistant_id) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, rec.StartTime, rec.Provider, rec.Settings.Model, rec.Settings.Temperature, rec.Settings.AssistantID,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", rec.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (session_id, seq, role, content, timestamp) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range rec.Messages {
		if _, err := stmt.ExecContext(ctx, rec.ID, i, string(msg.Role), msg.Content, msg.Timestamp); err != nil {
			return fmt.Errorf("failed to save message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load reads a session and its messages in transcript order
func (s *SQLiteStore) Load(ctx context.Context, id string) (session.Record, error) {
	rec := session.Record{ID: id}

	err := s.db.QueryRowContext(ctx,
		"SELECT start_time, provider, model, temperature, assistant_id FROM sessions WHERE id = ?", id).
		Scan(&rec.StartTime, &rec.Provider, &rec.Settings.Model, &rec.Settings.Temperature, &rec.Settings.AssistantID)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY seq", id)
	if err != nil {
		return session.Record{}, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	rec.Messages = []session.Message{}
	for rows.Next() {
		var msg session.Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp); err != nil {
			return session.Record{}, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = session.Role(role)
		rec.Messages = append(rec.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return session.Record{}, fmt.Errorf("failed to read messages: %w", err)
	}
	return rec, nil
}

// List returns stored sessions, newest first
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.start_time, s.provider, s.model, COUNT(m.id)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id
		ORDER BY s.start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.StartTime, &sum.Provider, &sum.Model, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
