package jurisdiction

import (
	"context"
	"sync"

	"iwitness/pkg/platform/sentinel"
)

// InMemoryRuleStore serves rules from process memory. Rules change through
// administration, not through the gate, so a seeded read-mostly map is
// enough for tests and local runs.
type InMemoryRuleStore struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewInMemoryRuleStore(rules ...Rule) *InMemoryRuleStore {
	return &InMemoryRuleStore{rules: rules}
}

func (s *InMemoryRuleStore) Seed(rules ...Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rules...)
}

func (s *InMemoryRuleStore) ListByState(_ context.Context, state string) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Rule
	for _, r := range s.rules {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out, nil
}

// InMemoryIncidentStore keeps incidents in process memory.
type InMemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]Incident
}

func NewInMemoryIncidentStore() *InMemoryIncidentStore {
	return &InMemoryIncidentStore{incidents: make(map[string]Incident)}
}

func (s *InMemoryIncidentStore) Save(_ context.Context, incident Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = incident
	return nil
}

func (s *InMemoryIncidentStore) FindByID(_ context.Context, id string) (Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if incident, ok := s.incidents[id]; ok {
		return incident, nil
	}
	return Incident{}, sentinel.ErrNotFound
}
