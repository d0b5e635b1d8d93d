package interview

import (
	"context"
	"sync"
)

// Store maps session keys to interview state. Get returns (nil, nil) for an
// absent key. Operations are individually safe for concurrent use; callers
// performing read-modify-write serialize per key via KeyLocks.
type Store interface {
	Get(ctx context.Context, key Key) (*Session, error)
	Put(ctx context.Context, key Key, session *Session) error
	Delete(ctx context.Context, key Key) error
}

// MemoryStore is the default in-process store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(_ context.Context, key Key) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key.String()]
	if !ok {
		return nil, nil
	}
	return sess.clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key.String()] = session.clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key.String())
	return nil
}
