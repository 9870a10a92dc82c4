package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter keeps failure timestamps in a sorted set per scope and
// key, so every instance shares one budget. Store errors fall back to the
// local limiter.
type RedisRateLimiter struct {
	client   redis.UniversalClient
	prefix   string
	policy   RateLimitPolicy
	fallback *LocalRateLimiter
	now      func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, policy RateLimitPolicy) *RedisRateLimiter {
	if prefix == "" {
		prefix = "auth_rate_limit"
	}
	return &RedisRateLimiter{
		client:   client,
		prefix:   prefix,
		policy:   policy,
		fallback: NewLocalRateLimiter(policy),
		now:      time.Now,
	}
}

func (l *RedisRateLimiter) Check(ctx context.Context, scope RateLimitScope, key string) (RateLimitDecision, error) {
	now := l.now()
	window := l.policy.window()
	k := l.redisKey(scope, key)
	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, k)
	firstCmd := pipe.ZRangeWithScores(ctx, k, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		slog.WarnContext(ctx, "rate limit store unavailable, using local window", "scope", string(scope), "error", err)
		return l.fallback.Check(ctx, scope, key)
	}
	var first time.Time
	if members := firstCmd.Val(); len(members) > 0 {
		first = time.UnixMilli(int64(members[0].Score))
	}
	return decide(int(countCmd.Val()), l.policy.budget(scope), first, window, now), nil
}

func (l *RedisRateLimiter) RegisterFailure(ctx context.Context, scope RateLimitScope, key string) error {
	now := l.now()
	window := l.policy.window()
	k := l.redisKey(scope, key)
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	pipe.PExpire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "rate limit store unavailable, using local window", "scope", string(scope), "error", err)
		return l.fallback.RegisterFailure(ctx, scope, key)
	}
	return nil
}

func (l *RedisRateLimiter) Reset(ctx context.Context, scope RateLimitScope, key string) error {
	_ = l.fallback.Reset(ctx, scope, key)
	if err := l.client.Del(ctx, l.redisKey(scope, key)).Err(); err != nil {
		slog.WarnContext(ctx, "rate limit reset failed", "scope", string(scope), "error", err)
	}
	return nil
}

func (l *RedisRateLimiter) redisKey(scope RateLimitScope, key string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, scope, hashToken(key))
}
