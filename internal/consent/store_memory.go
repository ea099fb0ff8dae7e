package consent

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.UserID] = append(s.records[record.UserID], record)
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record{}, s.records[userID]...), nil
}

func (s *InMemoryStore) Revoke(_ context.Context, userID string, purpose Purpose, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.records[userID]
	for i := range records {
		if records[i].Purpose == purpose {
			records[i].RevokedAt = &revokedAt
		}
	}
	s.records[userID] = records
	return nil
}
