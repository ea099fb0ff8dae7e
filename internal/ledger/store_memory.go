package ledger

import (
	"context"
	"sync"
)

// InMemoryStore keeps events in process memory. Intentionally favors clarity
// over performance; the struct-copy reads preserve append-only semantics
// even against misbehaving callers.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SubjectID] = append(s.events[event.SubjectID], event)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[subjectID]...), nil
}

func (s *InMemoryStore) LastHash(_ context.Context, subjectID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[subjectID]
	if len(events) == 0 {
		return "", nil
	}
	return events[len(events)-1].EventHash, nil
}
