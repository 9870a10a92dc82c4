package service

import (
	"context"
	"time"
)

// CachedRefresh is what a completed refresh leaves behind for retries that
// carry the same idempotency key.
type CachedRefresh struct {
	Response RefreshResponse       `json:"response"`
	Metadata CachedRefreshMetadata `json:"metadata"`
}

type CachedRefreshMetadata struct {
	IPAddress           string    `json:"ip"`
	SerializedUserAgent string    `json:"serializedUserAgent"`
	OldTokenHash        string    `json:"oldTokenHash"`
	CookieExpiry        time.Time `json:"cookieExpiry"`
	NewTokenPlaintext   string    `json:"newTokenPlaintext"`
}

// IdempotencyCoordinator deduplicates retried refresh requests. It is
// advisory: every method fails open, so a broken store only costs duplicate
// work that the rotation compare-and-swap still rejects.
type IdempotencyCoordinator interface {
	Enabled() bool
	TryLock(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
	GetCached(ctx context.Context, key string) (*CachedRefresh, bool)
	Store(ctx context.Context, key string, result CachedRefresh)
	// Subscribe returns a channel that fires when a result is stored for key.
	// A nil channel means only polling is available.
	Subscribe(ctx context.Context, key string) (<-chan struct{}, func())
}

// NoopIdempotencyCoordinator is selected when no shared store is configured.
type NoopIdempotencyCoordinator struct{}

func NewNoopIdempotencyCoordinator() NoopIdempotencyCoordinator { return NoopIdempotencyCoordinator{} }

func (NoopIdempotencyCoordinator) Enabled() bool { return false }
func (NoopIdempotencyCoordinator) TryLock(context.Context, string) bool { return true }
func (NoopIdempotencyCoordinator) Release(context.Context, string) {}
func (NoopIdempotencyCoordinator) Store(context.Context, string, CachedRefresh) {}

func (NoopIdempotencyCoordinator) GetCached(context.Context, string) (*CachedRefresh, bool) {
	return nil, false
}

func (NoopIdempotencyCoordinator) Subscribe(context.Context, string) (<-chan struct{}, func()) {
	return nil, func() {}
}
