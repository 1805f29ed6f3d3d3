//go:build integration

package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"soulid/internal/kv"
	"soulid/pkg/testutil/containers"
)

type RedisSuite struct {
	contractSuite
	redis *containers.RedisContainer
}

func TestRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = kv.NewRedis(s.redis.Client, kv.WithRedisPrefix("kvtest:"))
}

func (s *RedisSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisSuite) TestKeysAreNamespaced() {
	s.put("a", "1")
	keys, err := s.redis.Client.Keys(context.Background(), "kvtest:data:*").Result()
	s.Require().NoError(err)
	s.Equal([]string{"kvtest:data:a"}, keys)
}
