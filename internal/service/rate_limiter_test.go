package service

import (
	"context"
	"testing"
	"time"
)

func TestLocalRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalRateLimiter(RateLimitPolicy{
		Budgets: map[RateLimitScope]int{RateLimitScopeLogin: 3, RateLimitScopeRefresh: 5},
		Window:  time.Minute,
	})
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		d, _ := l.Check(ctx, RateLimitScopeLogin, "10.0.0.1")
		if !d.Allowed {
			t.Fatalf("attempt %d should be allowed", i)
		}
		_ = l.RegisterFailure(ctx, RateLimitScopeLogin, "10.0.0.1")
		now = now.Add(10 * time.Second)
	}
	d, _ := l.Check(ctx, RateLimitScopeLogin, "10.0.0.1")
	if d.Allowed {
		t.Fatal("expected budget exhausted")
	}
	if d.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry after oldest failure leaves window, got %v", d.RetryAfter)
	}
	if d, _ := l.Check(ctx, RateLimitScopeRefresh, "10.0.0.1"); !d.Allowed {
		t.Fatal("scopes must not share a budget")
	}
	if d, _ := l.Check(ctx, RateLimitScopeLogin, "10.0.0.2"); !d.Allowed {
		t.Fatal("keys must not share a budget")
	}

	now = now.Add(31 * time.Second)
	if d, _ := l.Check(ctx, RateLimitScopeLogin, "10.0.0.1"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected one slot after oldest failure expired, got %+v", d)
	}
	_ = l.Reset(ctx, RateLimitScopeLogin, "10.0.0.1")
	if d, _ := l.Check(ctx, RateLimitScopeLogin, "10.0.0.1"); d.Remaining != 3 {
		t.Fatalf("expected full budget after reset, got %+v", d)
	}
}
