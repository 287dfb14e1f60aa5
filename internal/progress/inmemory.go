package progress

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process position store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	positions map[string]Position
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{positions: make(map[string]Position)}
}

func key(userID, documentID string) string { return userID + "\x00" + documentID }

func (s *InMemoryStore) Save(_ context.Context, pos Position) error {
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[key(pos.UserID, pos.DocumentID)] = pos
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, userID, documentID string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[key(userID, documentID)]
	if !ok {
		return nil, nil
	}
	out := pos
	return &out, nil
}

func (s *InMemoryStore) Close() error { return nil }
