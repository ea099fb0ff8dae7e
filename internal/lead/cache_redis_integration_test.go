//go:build integration

package lead_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"iwitness/internal/lead"
	"iwitness/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite

	redis *containers.RedisContainer
	cache *lead.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.cache = lead.NewRedisCache(s.redis.Client)
}

func (s *RedisCacheSuite) TestLeadIDSlot() {
	ctx := context.Background()
	id := uuid.New()

	_, ok, err := s.cache.LeadID(ctx, "hash-a")
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.SetLeadID(ctx, "hash-a", id, time.Minute))

	got, ok, err := s.cache.LeadID(ctx, "hash-a")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(id, got)
}

func (s *RedisCacheSuite) TestAttributionSlot() {
	ctx := context.Background()
	attribution := lead.Attribution{ReferralCode: "ref-1", UTMSource: "newsletter"}

	s.Require().NoError(s.cache.SetAttribution(ctx, "hash-a", attribution, time.Minute))

	got, ok, err := s.cache.Attribution(ctx, "hash-a")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(attribution, got)
}

func (s *RedisCacheSuite) TestExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.cache.SetLeadID(ctx, "hash-a", uuid.New(), 50*time.Millisecond))

	time.Sleep(100 * time.Millisecond)

	_, ok, err := s.cache.LeadID(ctx, "hash-a")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisCacheSuite) TestClear() {
	ctx := context.Background()
	s.Require().NoError(s.cache.SetLeadID(ctx, "hash-a", uuid.New(), time.Minute))
	s.Require().NoError(s.cache.SetAttribution(ctx, "hash-a", lead.Attribution{Source: "ad"}, time.Minute))

	s.Require().NoError(s.cache.Clear(ctx, "hash-a"))

	_, ok, err := s.cache.LeadID(ctx, "hash-a")
	s.Require().NoError(err)
	s.False(ok)
	_, ok, err = s.cache.Attribution(ctx, "hash-a")
	s.Require().NoError(err)
	s.False(ok)
}
