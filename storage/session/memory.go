package sessionstore

import (
	"sync"

	"github.com/elimuhq/elimu/core/session"
)

// MemoryStore keeps tokens for the lifetime of the process. Used in tests and
// anywhere persistence across invocations is not wanted.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens session.Tokens
}

var _ session.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (session.Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, nil
}

func (s *MemoryStore) Save(tokens session.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = session.Tokens{}
	return nil
}
