package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisLookupMissCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLookupMissCache(client redis.UniversalClient, prefix string) *RedisLookupMissCache {
	if prefix == "" {
		prefix = "lookup_miss"
	}
	return &RedisLookupMissCache{client: client, prefix: prefix}
}

func (c *RedisLookupMissCache) Missed(ctx context.Context, namespace, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(namespace, key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisLookupMissCache) RememberMiss(ctx context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(namespace, key), "1", ttl).Err()
}

func (c *RedisLookupMissCache) key(namespace, key string) string {
	return c.prefix + ":" + namespace + ":" + hashToken(strings.ToLower(key))
}
