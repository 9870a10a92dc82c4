package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sandeepkv93/session-guard/internal/observability"
)

const idempotencyProcessing = "processing"

type RedisIdempotencyCoordinator struct {
	client    redis.UniversalClient
	prefix    string
	lockTTL   time.Duration
	resultTTL time.Duration
}

func NewRedisIdempotencyCoordinator(client redis.UniversalClient, prefix string, lockTTL, resultTTL time.Duration) *RedisIdempotencyCoordinator {
	if prefix == "" {
		prefix = "refresh_idempotency"
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	if resultTTL <= 0 {
		resultTTL = 30 * time.Second
	}
	return &RedisIdempotencyCoordinator{client: client, prefix: prefix, lockTTL: lockTTL, resultTTL: resultTTL}
}

func (c *RedisIdempotencyCoordinator) Enabled() bool { return c.client != nil }

func (c *RedisIdempotencyCoordinator) TryLock(ctx context.Context, key string) bool {
	ok, err := c.client.SetNX(ctx, c.lockKey(key), idempotencyProcessing, c.lockTTL).Result()
	if err != nil {
		slog.WarnContext(ctx, "idempotency lock unavailable, proceeding without it", "error", err)
		observability.RecordIdempotencyEvent(ctx, "store_error")
		return true
	}
	if ok {
		observability.RecordIdempotencyEvent(ctx, "lock_acquired")
	} else {
		observability.RecordIdempotencyEvent(ctx, "lock_contended")
	}
	return ok
}

func (c *RedisIdempotencyCoordinator) Release(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.lockKey(key)).Err(); err != nil {
		slog.WarnContext(ctx, "idempotency lock release failed", "error", err)
		observability.RecordIdempotencyEvent(ctx, "store_error")
	}
}

func (c *RedisIdempotencyCoordinator) GetCached(ctx context.Context, key string) (*CachedRefresh, bool) {
	raw, err := c.client.Get(ctx, c.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.WarnContext(ctx, "idempotency cache read failed", "error", err)
		observability.RecordIdempotencyEvent(ctx, "store_error")
		return nil, false
	}
	var out CachedRefresh
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.WarnContext(ctx, "idempotency cache entry unreadable", "error", err)
		return nil, false
	}
	return &out, true
}

func (c *RedisIdempotencyCoordinator) Store(ctx context.Context, key string, result CachedRefresh) {
	raw, err := json.Marshal(result)
	if err != nil {
		slog.WarnContext(ctx, "idempotency cache encode failed", "error", err)
		return
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.resultKey(key), raw, c.resultTTL)
	pipe.Publish(ctx, c.channel(key), "stored")
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "idempotency cache write failed", "error", err)
		observability.RecordIdempotencyEvent(ctx, "store_error")
		return
	}
	observability.RecordIdempotencyEvent(ctx, "result_stored")
}

func (c *RedisIdempotencyCoordinator) Subscribe(ctx context.Context, key string) (<-chan struct{}, func()) {
	sub := c.client.Subscribe(ctx, c.channel(key))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, func() {}
	}
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake, func() {
		close(done)
		_ = sub.Close()
	}
}

func (c *RedisIdempotencyCoordinator) lockKey(key string) string {
	return fmt.Sprintf("%s:lock:%s", c.prefix, hashToken(key))
}

func (c *RedisIdempotencyCoordinator) resultKey(key string) string {
	return fmt.Sprintf("%s:result:%s", c.prefix, hashToken(key))
}

func (c *RedisIdempotencyCoordinator) channel(key string) string {
	return fmt.Sprintf("%s:done:%s", c.prefix, hashToken(key))
}

func hashToken(v string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(v)))
	return hex.EncodeToString(sum[:])
}
