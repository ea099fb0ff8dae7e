package lead

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CacheStore is the explicit, injected replacement for the ambient
// client-side attribution storage: two typed slots per device hash (the
// parsed attribution and the lead identifier), both expiring after the merge
// window. It is a UX memory, not a source of truth; a cached lead id alone
// never authorizes a merge.
type CacheStore interface {
	LeadID(ctx context.Context, deviceHash string) (uuid.UUID, bool, error)
	SetLeadID(ctx context.Context, deviceHash string, leadID uuid.UUID, ttl time.Duration) error
	Attribution(ctx context.Context, deviceHash string) (Attribution, bool, error)
	SetAttribution(ctx context.Context, deviceHash string, attribution Attribution, ttl time.Duration) error
	Clear(ctx context.Context, deviceHash string) error
}

type cachedSlot[T any] struct {
	value     T
	expiresAt time.Time
}

// InMemoryCache implements CacheStore for tests and single-process runs.
type InMemoryCache struct {
	mu           sync.RWMutex
	leadIDs      map[string]cachedSlot[uuid.UUID]
	attributions map[string]cachedSlot[Attribution]
	now          func() time.Time
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		leadIDs:      make(map[string]cachedSlot[uuid.UUID]),
		attributions: make(map[string]cachedSlot[Attribution]),
		now:          time.Now,
	}
}

// WithClock overrides the expiry clock for tests.
func (c *InMemoryCache) WithClock(now func() time.Time) *InMemoryCache {
	c.now = now
	return c
}

func (c *InMemoryCache) LeadID(_ context.Context, deviceHash string) (uuid.UUID, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	slot, ok := c.leadIDs[deviceHash]
	if !ok || c.now().After(slot.expiresAt) {
		return uuid.Nil, false, nil
	}
	return slot.value, true, nil
}

func (c *InMemoryCache) SetLeadID(_ context.Context, deviceHash string, leadID uuid.UUID, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leadIDs[deviceHash] = cachedSlot[uuid.UUID]{value: leadID, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *InMemoryCache) Attribution(_ context.Context, deviceHash string) (Attribution, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	slot, ok := c.attributions[deviceHash]
	if !ok || c.now().After(slot.expiresAt) {
		return Attribution{}, false, nil
	}
	return slot.value, true, nil
}

func (c *InMemoryCache) SetAttribution(_ context.Context, deviceHash string, attribution Attribution, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributions[deviceHash] = cachedSlot[Attribution]{value: attribution, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *InMemoryCache) Clear(_ context.Context, deviceHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.leadIDs, deviceHash)
	delete(c.attributions, deviceHash)
	return nil
}
