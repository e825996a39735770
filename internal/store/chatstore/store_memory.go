package chatstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/healthassistant/backend/internal/model/chat"
)

// InMemoryStore keeps rows in process memory. Rows list by created_at, then id,
// like the SQLite store.
type InMemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[string][]chat.Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{messages: make(map[string][]chat.Message)}
}

func (s *InMemoryStore) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	msg, err := normalizeMessage(msg, time.Now())
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "in-memory chat store: append")
	}
	// Millisecond precision, as persisted by the SQLite store.
	msg.CreatedAt = time.UnixMilli(msg.CreatedAt.UnixMilli()).UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return msg, nil
}

func (s *InMemoryStore) ListBySession(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	slices.SortFunc(copied, func(a, b chat.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return copied, nil
}

func (s *InMemoryStore) DeleteBySession(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.messages[sessionID]))
	delete(s.messages, sessionID)
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }
