package service

import (
	"context"
	"strings"
	"sync"
	"time"
)

const lookupNamespaceOrganisation = "organisation"

// LookupMissCache remembers identifiers that recently failed to resolve so
// repeated logins against an unknown tenant do not reach the database.
type LookupMissCache interface {
	Missed(ctx context.Context, namespace, key string) (bool, error)
	RememberMiss(ctx context.Context, namespace, key string, ttl time.Duration) error
}

type NoopLookupMissCache struct{}

func (NoopLookupMissCache) Missed(context.Context, string, string) (bool, error) { return false, nil }

func (NoopLookupMissCache) RememberMiss(context.Context, string, string, time.Duration) error {
	return nil
}

type InMemoryLookupMissCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewInMemoryLookupMissCache() *InMemoryLookupMissCache {
	return &InMemoryLookupMissCache{entries: make(map[string]time.Time), now: time.Now}
}

func (c *InMemoryLookupMissCache) Missed(_ context.Context, namespace, key string) (bool, error) {
	k := missKey(namespace, key)
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt, ok := c.entries[k]
	if !ok {
		return false, nil
	}
	if !c.now().Before(expiresAt) {
		delete(c.entries, k)
		return false, nil
	}
	return true, nil
}

func (c *InMemoryLookupMissCache) RememberMiss(_ context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, k)
		}
	}
	c.entries[missKey(namespace, key)] = now.Add(ttl)
	return nil
}

func missKey(namespace, key string) string {
	return namespace + "\x00" + strings.ToLower(strings.TrimSpace(key))
}
