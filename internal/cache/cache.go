package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"PeopleChat/internal/backend"
	"PeopleChat/internal/session"
)

// CachedResponse represents a cached API response
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// Store holds cached replies by key
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, model, response string) error
}

// Key generates a cache key from everything that shapes a chat completion
func Key(settings session.Settings, instructions string, prior []session.Message, newUserText string) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	write(settings.Model)
	write(strconv.FormatFloat(settings.Temperature, 'f', -1, 64))
	write(instructions)
	for _, msg := range prior {
		write(string(msg.Role))
		write(msg.Content)
	}
	write(newUserText)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	entries sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return "", false, nil
	}
	return v.(CachedResponse).Response, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key, _ string, response string) error {
	m.entries.Store(key, CachedResponse{Response: response, Timestamp: time.Now()})
	return nil
}

type cachingAdapter struct {
	backend.Adapter
	store  Store
	logger *slog.Logger
}

// Wrap caches successful stateless chat completions of next in store.
// Assistant threads are never cached.
func Wrap(next backend.Adapter, store Store, logger *slog.Logger) backend.Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &cachingAdapter{Adapter: next, store: store, logger: logger}
}

func (c *cachingAdapter) CompleteChat(ctx context.Context, instructions string, prior []session.Message, newUserText string, settings session.Settings) (string, error) {
	key := Key(settings, instructions, prior, newUserText)

	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed", "error", err)
	} else if ok {
		c.logger.Debug("cache hit", "key", key[:12], "model", settings.Model)
		return cached, nil
	}

	reply, err := c.Adapter.CompleteChat(ctx, instructions, prior, newUserText, settings)
	if err != nil {
		return "", err
	}

	if err := c.store.Put(ctx, key, settings.Model, reply); err != nil {
		c.logger.Warn("cache store failed", "error", err)
	}
	return reply, nil
}
