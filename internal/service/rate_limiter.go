package service

import (
	"context"
	"sync"
	"time"
)

type RateLimitScope string

const (
	RateLimitScopeLogin   RateLimitScope = "login"
	RateLimitScopeRefresh RateLimitScope = "refresh"
)

type RateLimitDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitPolicy is the failure budget per scope inside one sliding window.
type RateLimitPolicy struct {
	Budgets map[RateLimitScope]int
	Window  time.Duration
}

func (p RateLimitPolicy) budget(scope RateLimitScope) int {
	if n, ok := p.Budgets[scope]; ok && n > 0 {
		return n
	}
	return 1
}

func (p RateLimitPolicy) window() time.Duration {
	if p.Window <= 0 {
		return 15 * time.Minute
	}
	return p.Window
}

// LocalRateLimiter counts failures in process memory. It is the fallback
// when no shared store is configured or the shared store is unreachable.
type LocalRateLimiter struct {
	policy  RateLimitPolicy
	mu      sync.Mutex
	hits    map[string][]time.Time
	cleanup time.Time
	now     func() time.Time
}

func NewLocalRateLimiter(policy RateLimitPolicy) *LocalRateLimiter {
	return &LocalRateLimiter{
		policy:  policy,
		hits:    make(map[string][]time.Time),
		cleanup: time.Now().Add(policy.window()),
		now:     time.Now,
	}
}

func (l *LocalRateLimiter) Check(_ context.Context, scope RateLimitScope, key string) (RateLimitDecision, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	hits := l.prune(scope, key, now)
	return decide(len(hits), l.policy.budget(scope), oldest(hits), l.policy.window(), now), nil
}

func (l *LocalRateLimiter) RegisterFailure(_ context.Context, scope RateLimitScope, key string) error {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	hits := l.prune(scope, key, now)
	l.hits[localKey(scope, key)] = append(hits, now)
	return nil
}

func (l *LocalRateLimiter) Reset(_ context.Context, scope RateLimitScope, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, localKey(scope, key))
	return nil
}

// prune drops hits outside the window; callers hold l.mu.
func (l *LocalRateLimiter) prune(scope RateLimitScope, key string, now time.Time) []time.Time {
	window := l.policy.window()
	if now.After(l.cleanup) {
		for k, v := range l.hits {
			if len(v) == 0 || now.Sub(v[len(v)-1]) > window {
				delete(l.hits, k)
			}
		}
		l.cleanup = now.Add(window)
	}
	k := localKey(scope, key)
	cutoff := now.Add(-window)
	hits := l.hits[k]
	pruned := hits[:0]
	for _, hit := range hits {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}
	l.hits[k] = pruned
	return pruned
}

func decide(count, budget int, first time.Time, window time.Duration, now time.Time) RateLimitDecision {
	remaining := budget - count
	if remaining > 0 {
		return RateLimitDecision{Allowed: true, Remaining: remaining}
	}
	retry := first.Add(window).Sub(now)
	if retry <= 0 {
		retry = time.Second
	}
	return RateLimitDecision{Allowed: false, RetryAfter: retry}
}

func oldest(hits []time.Time) time.Time {
	if len(hits) == 0 {
		return time.Time{}
	}
	return hits[0]
}

func localKey(scope RateLimitScope, key string) string {
	return string(scope) + "|" + key
}
