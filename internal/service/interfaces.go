package service

import (
	"context"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/policy"
)

type PasswordVerifier interface {
	Verify(plaintext, hash string) bool
}

// SecondFactorVerifier checks a one-time code. Code generation and delivery
// happen elsewhere.
type SecondFactorVerifier interface {
	Verify(ctx context.Context, code string, method domain.MFAMethod, userID uint) (bool, error)
}

type AuditSink interface {
	Append(ctx context.Context, event AuditEvent) error
}

type SecurityNotifier interface {
	NotifyBlockedAccount(ctx context.Context, userID uint) error
	NotifyReuseDetected(ctx context.Context, userID uint, alsoNotifyUser bool) error
}

type AuthRateLimiter interface {
	Check(ctx context.Context, scope RateLimitScope, key string) (RateLimitDecision, error)
	RegisterFailure(ctx context.Context, scope RateLimitScope, key string) error
	Reset(ctx context.Context, scope RateLimitScope, key string) error
}

type MFAPolicy interface {
	Required(ctx context.Context, in policy.MFAInput) (bool, error)
}

type AuthServiceInterface interface {
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
	Refresh(ctx context.Context, in RefreshInput) (*RefreshResult, error)
	Logout(ctx context.Context, in LogoutInput) error
}

// RejectingSecondFactorVerifier is used when no verifier is configured. Every
// challenge fails, so accounts that need MFA cannot log in.
type RejectingSecondFactorVerifier struct{}

func (RejectingSecondFactorVerifier) Verify(context.Context, string, domain.MFAMethod, uint) (bool, error) {
	return false, nil
}
