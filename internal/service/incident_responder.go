package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"
)

type ReuseClassification string

const (
	ReuseBenignRetry      ReuseClassification = "benign_retry"
	ReuseIPChanged        ReuseClassification = "ip_changed"
	ReuseDeviceMismatch   ReuseClassification = "device_mismatch"
	ReuseSuspiciousReplay ReuseClassification = "suspicious_replay"
)

// ReuseIncident describes a refresh token presented after it was already used.
// Token must carry the usage evidence written by the winning rotation.
type ReuseIncident struct {
	Token              *domain.RefreshToken
	Current            DeviceSignal
	CoordinatorEnabled bool
	Context            ErrorContext
}

// ReuseVerdict is the classification plus the facts it was derived from.
type ReuseVerdict struct {
	Classification ReuseClassification
	Severity       domain.Severity
	Fingerprint    FingerprintResult
	IPChanged      bool
	SincePriorUse  time.Duration
}

type IncidentResponder struct {
	tokens       *TokenService
	sessionRepo  repository.SessionRepository
	notifier     SecurityNotifier
	benignWindow time.Duration
	now          func() time.Time
}

func NewIncidentResponder(tokens *TokenService, sessionRepo repository.SessionRepository, notifier SecurityNotifier, benignWindow time.Duration) *IncidentResponder {
	return &IncidentResponder{
		tokens:       tokens,
		sessionRepo:  sessionRepo,
		notifier:     notifier,
		benignWindow: benignWindow,
		now:          time.Now,
	}
}

// Classify applies the reuse ladder. The first matching rule wins and the
// benign retry rule is checked before the IP change rule.
func (r *IncidentResponder) Classify(inc ReuseIncident) ReuseVerdict {
	tok := inc.Token
	v := ReuseVerdict{
		Fingerprint:   FingerprintResult{Risk: domain.RiskLow},
		SincePriorUse: time.Duration(1<<63 - 1),
	}
	// A token revoked by a concurrent writer carries no usage snapshot, so
	// there is no prior IP or user agent to compare against.
	if tok.UsedAt != nil {
		baseline := DeviceBaseline{DeviceID: tok.DeviceID}
		if tok.UsedIPAddress != nil {
			baseline.IPAddress = *tok.UsedIPAddress
		}
		if tok.UsedUserAgent != nil {
			baseline.SerializedUserAgent = *tok.UsedUserAgent
		}
		v.Fingerprint = ValidateFingerprint(inc.Current, baseline)
		v.IPChanged = baseline.IPAddress != inc.Current.IPAddress
		v.SincePriorUse = r.now().Sub(*tok.UsedAt)
	}

	switch {
	case !inc.CoordinatorEnabled && v.Fingerprint.Risk == domain.RiskLow && !v.IPChanged && v.SincePriorUse < r.benignWindow:
		v.Classification, v.Severity = ReuseBenignRetry, domain.SeverityWarning
	case v.IPChanged:
		v.Classification, v.Severity = ReuseIPChanged, domain.SeverityCritical
	case v.Fingerprint.Risk >= domain.RiskMedium:
		v.Classification, v.Severity = ReuseDeviceMismatch, domain.SeverityCritical
	default:
		v.Classification, v.Severity = ReuseSuspiciousReplay, domain.SeverityCritical
	}
	return v
}

// Respond classifies the incident, executes its revocation scope and
// returns the error to surface to the caller.
func (r *IncidentResponder) Respond(ctx context.Context, inc ReuseIncident) (*AuthError, ReuseVerdict) {
	v := r.Classify(inc)
	tok := inc.Token
	observability.RecordReuseIncident(ctx, string(v.Classification), string(v.Severity))
	slog.Log(ctx, severityLevel(v.Severity), "refresh token reuse detected",
		"classification", string(v.Classification),
		"severity", string(v.Severity),
		"user_id", tok.UserID,
		"device_id", tok.DeviceID,
		"token_family_id", tok.TokenFamilyID,
		"ip", inc.Current.IPAddress,
		"ip_changed", v.IPChanged,
		"risk", v.Fingerprint.Risk.String(),
		"since_prior_use_ms", v.SincePriorUse.Milliseconds(),
	)

	notifyUser := false
	switch v.Classification {
	case ReuseIPChanged, ReuseDeviceMismatch:
		r.revokeDevice(ctx, tok.DeviceID)
		notifyUser = true
	case ReuseSuspiciousReplay:
		if _, err := r.tokens.RevokeFamily(ctx, tok.TokenFamilyID, repository.RevokeReasonReuse); err != nil {
			slog.ErrorContext(ctx, "revoke token family failed", "token_family_id", tok.TokenFamilyID, "error", err)
		}
	}
	r.notify(ctx, tok.UserID, notifyUser)

	return &AuthError{
		Kind:     KindRefreshTokenReuse,
		Severity: v.Severity,
		Reason:   string(v.Classification),
		Context:  inc.Context,
		Err:      repository.ErrTokenNotRotatable,
	}, v
}

func (r *IncidentResponder) revokeDevice(ctx context.Context, deviceID string) {
	if _, err := r.tokens.RevokeDevice(ctx, deviceID, repository.RevokeReasonReuse); err != nil {
		slog.ErrorContext(ctx, "revoke device tokens failed", "device_id", deviceID, "error", err)
	}
	if _, err := r.sessionRepo.InvalidateByDevice(ctx, deviceID); err != nil {
		slog.ErrorContext(ctx, "invalidate device sessions failed", "device_id", deviceID, "error", err)
	}
}

func (r *IncidentResponder) notify(ctx context.Context, userID uint, alsoNotifyUser bool) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyReuseDetected(ctx, userID, alsoNotifyUser); err != nil {
		slog.WarnContext(ctx, "reuse notification failed", "user_id", userID, "error", err)
	}
}

func severityLevel(s domain.Severity) slog.Level {
	switch s {
	case domain.SeverityCritical:
		return slog.LevelError
	case domain.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
