package storage

import (
	"context"
	"sync"

	"genflow/internal/domain"
)

// MemoryStore implements domain.ChatStorage in process memory. Reads return
// copies, so callers can never mutate stored history through a returned slice.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]domain.Message
}

// NewMemoryStore creates an empty in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string][]domain.Message)}
}

// GetHistory implements domain.ChatStorage. Unknown conversations yield an
// empty history.
func (s *MemoryStore) GetHistory(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.conversations[conversationID]
	out := make([]domain.Message, len(history))
	copy(out, history)
	return out, nil
}

// AppendHistory implements domain.ChatStorage.
func (s *MemoryStore) AppendHistory(_ context.Context, conversationID string, messages []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conversationID] = append(s.conversations[conversationID], messages...)
	return nil
}

// UpdateHistory implements domain.ChatStorage.
func (s *MemoryStore) UpdateHistory(_ context.Context, conversationID string, messages []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := make([]domain.Message, len(messages))
	copy(replaced, messages)
	s.conversations[conversationID] = replaced
	return nil
}
