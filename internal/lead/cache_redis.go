package lead

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache implements CacheStore on Redis so the attribution memory
// survives process restarts and is shared across instances. TTLs are
// enforced by Redis key expiry.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func leadIDKey(deviceHash string) string      { return "lead:cache:" + deviceHash + ":lead_id" }
func attributionKey(deviceHash string) string { return "lead:cache:" + deviceHash + ":attribution" }

func (c *RedisCache) LeadID(ctx context.Context, deviceHash string) (uuid.UUID, bool, error) {
	raw, err := c.client.Get(ctx, leadIDKey(deviceHash)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		// Corrupt slot: treat as a miss, not a hard error.
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

func (c *RedisCache) SetLeadID(ctx context.Context, deviceHash string, leadID uuid.UUID, ttl time.Duration) error {
	return c.client.Set(ctx, leadIDKey(deviceHash), leadID.String(), ttl).Err()
}

func (c *RedisCache) Attribution(ctx context.Context, deviceHash string) (Attribution, bool, error) {
	raw, err := c.client.Get(ctx, attributionKey(deviceHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Attribution{}, false, nil
	}
	if err != nil {
		return Attribution{}, false, err
	}
	var attribution Attribution
	if err := json.Unmarshal(raw, &attribution); err != nil {
		return Attribution{}, false, nil
	}
	return attribution, true, nil
}

func (c *RedisCache) SetAttribution(ctx context.Context, deviceHash string, attribution Attribution, ttl time.Duration) error {
	raw, err := json.Marshal(attribution)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, attributionKey(deviceHash), raw, ttl).Err()
}

func (c *RedisCache) Clear(ctx context.Context, deviceHash string) error {
	return c.client.Del(ctx, leadIDKey(deviceHash), attributionKey(deviceHash)).Err()
}
