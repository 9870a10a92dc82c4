package service

import (
	"context"
	"testing"
	"time"
)

func TestRedisRateLimiterSharesBudgetAcrossInstances(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	policy := RateLimitPolicy{Budgets: map[RateLimitScope]int{RateLimitScopeLogin: 2}, Window: time.Minute}
	a := NewRedisRateLimiter(client, "rl_test", policy)
	b := NewRedisRateLimiter(client, "rl_test", policy)

	if err := a.RegisterFailure(ctx, RateLimitScopeLogin, "10.0.0.1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := b.RegisterFailure(ctx, RateLimitScopeLogin, "10.0.0.1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	d, err := a.Check(ctx, RateLimitScopeLogin, "10.0.0.1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("expected shared budget exhausted with bounded retry, got %+v", d)
	}
	if d, _ := b.Check(ctx, RateLimitScopeLogin, "10.0.0.2"); !d.Allowed {
		t.Fatal("other keys must stay allowed")
	}

	if err := b.Reset(ctx, RateLimitScopeLogin, "10.0.0.1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d, _ := a.Check(ctx, RateLimitScopeLogin, "10.0.0.1"); !d.Allowed {
		t.Fatal("expected budget restored after reset")
	}
}

func TestRedisRateLimiterFallsBackToLocalWindow(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	l := NewRedisRateLimiter(client, "rl_test", RateLimitPolicy{Budgets: map[RateLimitScope]int{RateLimitScopeRefresh: 1}, Window: time.Minute})
	server.Close()

	d, err := l.Check(ctx, RateLimitScopeRefresh, "10.0.0.1")
	if err != nil || !d.Allowed {
		t.Fatalf("expected fail-open allow, got %+v %v", d, err)
	}
	if err := l.RegisterFailure(ctx, RateLimitScopeRefresh, "10.0.0.1"); err != nil {
		t.Fatalf("register should fall back silently: %v", err)
	}
	d, _ = l.Check(ctx, RateLimitScopeRefresh, "10.0.0.1")
	if d.Allowed {
		t.Fatal("expected local fallback to enforce the budget")
	}
}
