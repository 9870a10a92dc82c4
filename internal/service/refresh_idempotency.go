package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/security"
)

// refreshIdempotent runs a refresh at most once per idempotency key. A
// completed result is replayed to retries; a retry that arrives while the
// first request still holds the lock waits for its result.
func (s *AuthService) refreshIdempotent(ctx context.Context, in RefreshInput) (*RefreshResult, error) {
	key := in.IdempotencyKey
	if cached, ok := s.Coordinator.GetCached(ctx, key); ok {
		return s.replay(ctx, in, cached)
	}
	if !s.Coordinator.TryLock(ctx, key) {
		cached, ok := waitForCachedRefresh(ctx, s.Coordinator, key, s.cfg.IdempotencyPollInterval, s.cfg.IdempotencyWaitTimeout)
		if !ok {
			observability.RecordIdempotencyEvent(ctx, "wait_timeout")
			return nil, &AuthError{
				Kind:       KindRetryLater,
				Severity:   domain.SeverityWarning,
				Reason:     "concurrent refresh did not finish in time",
				Context:    ErrorContext{IPAddress: in.IPAddress, UserAgent: in.UserAgent},
				RetryAfter: time.Second,
			}
		}
		return s.replay(ctx, in, cached)
	}
	defer s.Coordinator.Release(ctx, key)

	// The previous holder may have stored its result between the cache read
	// and the lock.
	if cached, ok := s.Coordinator.GetCached(ctx, key); ok {
		return s.replay(ctx, in, cached)
	}
	res, err := s.refresh(ctx, in)
	if err != nil {
		return nil, err
	}
	s.Coordinator.Store(ctx, key, CachedRefresh{
		Response: res.Response,
		Metadata: CachedRefreshMetadata{
			IPAddress:           in.IPAddress,
			SerializedUserAgent: security.ParseUserAgent(in.UserAgent).Serialize(),
			OldTokenHash:        s.Tokens.HashSecret(in.RefreshToken),
			CookieExpiry:        res.RefreshExpiry,
			NewTokenPlaintext:   res.RefreshToken,
		},
	})
	return res, nil
}

// replay validates a retry against the request that produced the cached
// result. Token and user agent must match exactly; the IP may change.
func (s *AuthService) replay(ctx context.Context, in RefreshInput, cached *CachedRefresh) (*RefreshResult, error) {
	ec := ErrorContext{IPAddress: in.IPAddress, UserAgent: in.UserAgent}
	if acct := in.DeviceCookie.LastUsedAccount; acct != nil {
		ec.OrganisationID, ec.UserID, ec.DeviceID = acct.OrganisationID, acct.UserID, acct.DeviceID
	}
	meta := cached.Metadata
	if !security.RefreshTokenHashEqual(s.Tokens.HashSecret(in.RefreshToken), meta.OldTokenHash) {
		slog.ErrorContext(ctx, "idempotent refresh replay rejected", "reason", "refresh token mismatch", "ip", in.IPAddress)
		observability.RecordIdempotencyEvent(ctx, "replay_rejected")
		return nil, &AuthError{Kind: KindIdempotencyMismatch, Severity: domain.SeverityCritical, Reason: "refresh token differs from original request", Context: ec}
	}
	if security.ParseUserAgent(in.UserAgent).Serialize() != meta.SerializedUserAgent {
		slog.ErrorContext(ctx, "idempotent refresh replay rejected", "reason", "user agent mismatch", "ip", in.IPAddress)
		observability.RecordIdempotencyEvent(ctx, "replay_rejected")
		return nil, &AuthError{Kind: KindIdempotencyMismatch, Severity: domain.SeverityCritical, Reason: "user agent differs from original request", Context: ec}
	}
	if in.IPAddress != meta.IPAddress {
		slog.WarnContext(ctx, "idempotent refresh replayed from a different ip", "original_ip", meta.IPAddress, "ip", in.IPAddress)
	}
	observability.RecordIdempotencyEvent(ctx, "replayed")
	s.appendAudit(ctx, AuditEvent{
		Action:     AuditActionReplay,
		Success:    true,
		Severity:   domain.SeverityInfo,
		Detail:     "cached refresh replayed",
		Context:    ec,
		Attributes: map[string]any{"ip_changed": in.IPAddress != meta.IPAddress},
	})
	return &RefreshResult{
		Response:      cached.Response,
		RefreshToken:  meta.NewTokenPlaintext,
		RefreshExpiry: meta.CookieExpiry,
		Replayed:      true,
	}, nil
}

// waitForCachedRefresh polls for a stored result until timeout. A pub/sub
// wake-up, when the coordinator offers one, short-circuits the poll interval.
func waitForCachedRefresh(ctx context.Context, coord IdempotencyCoordinator, key string, interval, timeout time.Duration) (*CachedRefresh, bool) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	wake, stop := coord.Subscribe(ctx, key)
	defer stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if cached, ok := coord.GetCached(ctx, key); ok {
			return cached, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-ticker.C:
		case <-wake:
		}
	}
}
