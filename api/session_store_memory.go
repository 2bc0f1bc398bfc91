package api

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore is a thread-safe in-memory SessionStore.
// Sessions are lost on server restart.
type MemorySessionStore struct {
	mu          sync.RWMutex
	data        map[string]Session
	idleTimeout time.Duration
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory session store.
// idleTimeout of 0 disables idle timeout checking.
func NewMemorySessionStore(idleTimeout time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		data:        make(map[string]Session),
		idleTimeout: idleTimeout,
	}
}

func (s *MemorySessionStore) Get(ctx context.Context, token string) (Session, bool) {
	s.mu.RLock()
	session, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	if session.expired(time.Now(), s.idleTimeout) {
		_ = s.Delete(ctx, token)
		return Session{}, false
	}
	return session.clone(), true
}

func (s *MemorySessionStore) Put(_ context.Context, token string, session Session) error {
	s.mu.Lock()
	s.data[token] = session.clone()
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Touch(_ context.Context, token string, session Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[token]
	if !ok || cur.expired(time.Now(), s.idleTimeout) {
		return false, nil
	}
	s.data[token] = session.clone()
	return true, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired sessions and reports how many were removed.
func (s *MemorySessionStore) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, session := range s.data {
		if session.expired(now, s.idleTimeout) {
			delete(s.data, token)
			n++
		}
	}
	return n
}
