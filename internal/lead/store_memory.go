package lead

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"iwitness/pkg/platform/sentinel"
)

// InMemoryStore keeps leads in process memory for tests and local runs.
type InMemoryStore struct {
	mu    sync.RWMutex
	leads map[uuid.UUID]Lead
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{leads: make(map[uuid.UUID]Lead)}
}

func (s *InMemoryStore) Save(_ context.Context, lead Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.LeadID] = lead
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lead, ok := s.leads[id]; ok {
		return lead, nil
	}
	return Lead{}, sentinel.ErrNotFound
}

// MergeTouch updates the touch fields only while the stored device hash
// still matches, mirroring the conditional UPDATE the Postgres store issues.
func (s *InMemoryStore) MergeTouch(_ context.Context, leadID uuid.UUID, deviceHash, touchURL string, at time.Time) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.leads[leadID]
	if !ok {
		return Lead{}, sentinel.ErrNotFound
	}
	if existing.DeviceHash != deviceHash {
		return Lead{}, sentinel.ErrMergeConflict
	}
	existing.LastTouchURL = touchURL
	existing.LastUpdated = at
	s.leads[leadID] = existing
	return existing, nil
}

func (s *InMemoryStore) Update(_ context.Context, lead Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[lead.LeadID]; !ok {
		return sentinel.ErrNotFound
	}
	s.leads[lead.LeadID] = lead
	return nil
}
