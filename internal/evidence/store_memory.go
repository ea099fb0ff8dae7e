package evidence

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"iwitness/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in process memory for tests and local runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[uuid.UUID]Session)}
}

func (s *InMemoryStore) Save(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[id]; ok {
		return session, nil
	}
	return Session{}, sentinel.ErrNotFound
}
