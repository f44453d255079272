package credstore

import (
	"context"
	"sync"

	"github.com/aelexs/session-gateway/internal/session"
)

var _ session.CredentialStore = (*MemoryStore)(nil)

// MemoryStore keeps the pair for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	pair session.CredentialPair
	ok   bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context) (session.CredentialPair, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.ok, nil
}

func (s *MemoryStore) Set(_ context.Context, pair session.CredentialPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair, s.ok = pair, true
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair, s.ok = session.CredentialPair{}, false
	return nil
}
