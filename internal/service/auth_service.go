package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/policy"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type LoginInput struct {
	OrganisationCode string
	Username         string
	Password         string
	SecondFactorCode string
	DeviceCookie     security.DeviceCookie
	IPAddress        string
	UserAgent        string
}

type LoginResult struct {
	Success       bool
	Kind          string
	MFAMethod     domain.MFAMethod
	AccessToken   string
	RefreshToken  string
	RefreshExpiry time.Time
	DeviceCookie  security.DeviceCookie
	UserID        uint
	DeviceID      string
	SessionID     string
}

type RefreshInput struct {
	RefreshToken   string
	DeviceCookie   security.DeviceCookie
	IPAddress      string
	UserAgent      string
	IdempotencyKey string
}

type RefreshResponse struct {
	Status      int    `json:"status"`
	Message     string `json:"message"`
	AccessToken string `json:"accessToken,omitempty"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"`
}

type RefreshResult struct {
	Response      RefreshResponse
	RefreshToken  string
	RefreshExpiry time.Time
	Replayed      bool
}

type LogoutInput struct {
	RefreshToken string
	IPAddress    string
	UserAgent    string
}

type AuthServiceConfig struct {
	LockoutThreshold                int
	SessionInactivityWindow         time.Duration
	SessionReactivationMinRemaining time.Duration
	IdempotencyPollInterval         time.Duration
	IdempotencyWaitTimeout          time.Duration
	LookupMissTTL                   time.Duration
}

type AuthServiceDeps struct {
	Organisations repository.OrganisationRepository
	Users         repository.UserRepository
	Devices       repository.DeviceRepository
	Sessions      repository.SessionRepository
	Tokens        *TokenService
	Responder     *IncidentResponder
	Lifetime      SessionLifetimeCalculator
	Passwords     PasswordVerifier
	SecondFactor  SecondFactorVerifier
	MFAPolicy     MFAPolicy
	RateLimiter   AuthRateLimiter
	Coordinator   IdempotencyCoordinator
	LookupMisses  LookupMissCache
	Audit         AuditSink
	Notifier      SecurityNotifier
}

// AuthService runs the login, refresh and logout flows. It reads entities and
// delegates every token and validity mutation to TokenService and
// IncidentResponder.
type AuthService struct {
	AuthServiceDeps
	cfg AuthServiceConfig
	now func() time.Time
}

func NewAuthService(deps AuthServiceDeps, cfg AuthServiceConfig) *AuthService {
	if deps.Coordinator == nil {
		deps.Coordinator = NoopIdempotencyCoordinator{}
	}
	if deps.LookupMisses == nil {
		deps.LookupMisses = NoopLookupMissCache{}
	}
	if deps.SecondFactor == nil {
		deps.SecondFactor = RejectingSecondFactorVerifier{}
	}
	if deps.Notifier == nil {
		deps.Notifier = LogSecurityNotifier{}
	}
	return &AuthService{AuthServiceDeps: deps, cfg: cfg, now: time.Now}
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "auth.login")
	defer span.End()

	res, err := s.login(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		s.recordFailure(ctx, AuditActionLogin, RateLimitScopeLogin, in.IPAddress, err)
		observability.RecordAuthLogin(ctx, failureStatus(err))
		return nil, err
	}
	if !res.Success {
		observability.RecordAuthLogin(ctx, "mfa_required")
		return res, nil
	}
	observability.RecordAuthLogin(ctx, "success")
	return res, nil
}

func (s *AuthService) login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	ec := ErrorContext{IPAddress: in.IPAddress, UserAgent: in.UserAgent}
	if err := s.checkRateLimit(ctx, RateLimitScopeLogin, ec); err != nil {
		return nil, err
	}
	orgCode := strings.TrimSpace(in.OrganisationCode)
	username := strings.TrimSpace(in.Username)
	if orgCode == "" || username == "" || in.Password == "" {
		return nil, &AuthError{Kind: KindUnknown, Severity: domain.SeverityInfo, Reason: "malformed credentials payload", Context: ec}
	}

	org, err := s.findOrganisation(ctx, orgCode)
	if err != nil {
		return nil, lookupFailure(ec, "organisation", err)
	}
	ec.OrganisationID = org.ID
	if !org.IsActive {
		return nil, invalidCredentials(ec, "organisation inactive")
	}
	user, err := s.Users.FindByOrganisationAndUsername(ctx, org.ID, username)
	if err != nil {
		return nil, lookupFailure(ec, "user", err)
	}
	ec.UserID = user.ID

	now := s.now().UTC()
	signal := DeviceSignal{IPAddress: in.IPAddress, UserAgent: security.ParseUserAgent(in.UserAgent)}
	device, fp := s.knownDevice(ctx, in.DeviceCookie, org.ID, user.ID, signal)
	if device != nil {
		ec.DeviceID = device.ID
	}

	if !s.Passwords.Verify(in.Password, user.PasswordHash) {
		return nil, s.wrongPassword(ctx, user, ec)
	}
	if !user.IsActive {
		return nil, invalidCredentials(ec, "user inactive")
	}
	if user.ForcePasswordChange {
		err := authFailed(ec, domain.SeverityInfo, "password change pending")
		err.Outcome = OutcomePasswordChangeRequired
		return nil, err
	}

	var lastMFA *time.Time
	if device != nil {
		lastMFA = device.LastMFAAt
	}
	required, err := s.MFAPolicy.Required(ctx, policy.MFAInput{
		Risk:           fp.Risk,
		UserMFAEnabled: user.MFAEnabled,
		OrgRequiresMFA: org.RequireMFA,
		LastMFAAt:      lastMFA,
		Now:            now,
	})
	if err != nil {
		return nil, unknownError(ec, "mfa policy", err)
	}
	var mfaValidated *time.Time
	mfaMethod := user.MFAMethod
	if mfaMethod == domain.MFAMethodNone {
		mfaMethod = domain.MFAMethodEmail
	}
	if required {
		if strings.TrimSpace(in.SecondFactorCode) == "" {
			s.appendAudit(ctx, AuditEvent{
				Action:   AuditActionLogin,
				Severity: domain.SeverityInfo,
				Detail:   "second factor required",
				Context:  ec,
				Attributes: map[string]any{
					"risk":    fp.Risk.String(),
					"reasons": fp.Reasons,
				},
			})
			return &LoginResult{Kind: OutcomeMFARequired, MFAMethod: mfaMethod}, nil
		}
		ok, err := s.SecondFactor.Verify(ctx, in.SecondFactorCode, mfaMethod, user.ID)
		if err != nil {
			return nil, unknownError(ec, "second factor verification", err)
		}
		if !ok {
			fail := authFailed(ec, domain.SeverityWarning, "second factor rejected")
			fail.Outcome = OutcomeInvalidSecondFactor
			return nil, fail
		}
		mfaValidated = &now
	}

	risk := fp.Risk
	if device != nil && risk == domain.RiskSevere {
		slog.WarnContext(ctx, "untrusting device after severe fingerprint mismatch",
			"user_id", user.ID, "device_id", device.ID, "reasons", fp.Reasons)
		device = nil
		risk = domain.RiskLow
	}
	isNewDevice := device == nil
	serializedUA := signal.UserAgent.Serialize()
	if isNewDevice {
		device = &domain.Device{
			ID:            uuid.NewString(),
			UserID:        user.ID,
			LastIPAddress: in.IPAddress,
			LastUserAgent: serializedUA,
			LastMFAAt:     mfaValidated,
			IsValid:       true,
		}
		if mfaValidated != nil {
			device.LastMFAMethod = mfaMethod
		}
		if err := s.Devices.Create(ctx, device); err != nil {
			return nil, unknownError(ec, "create device", err)
		}
	} else {
		signals := repository.DeviceSignals{IPAddress: in.IPAddress, UserAgent: serializedUA}
		if mfaValidated != nil {
			signals.MFAValidated, signals.MFAMethod = mfaValidated, mfaMethod
			device.LastMFAAt, device.LastMFAMethod = mfaValidated, mfaMethod
		}
		if err := s.Devices.UpdateSignals(ctx, device.ID, signals); err != nil {
			return nil, unknownError(ec, "update device", err)
		}
	}
	ec.DeviceID = device.ID

	expiry := s.Lifetime.Calculate(SessionLifetimeInput{
		IsNewDevice:            isNewDevice,
		Risk:                   risk,
		LastMFAValidation:      device.LastMFAAt,
		MFAMethod:              device.LastMFAMethod,
		LastPasswordValidation: now,
		Role:                   user.Role,
	})
	if expiry == nil {
		return nil, authFailed(ec, domain.SeverityInfo, "no session lifetime available")
	}

	session := &domain.Session{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		DeviceID:    device.ID,
		IsValid:     true,
		LastLoginAt: now,
		RiskLevel:   risk.String(),
		UserAgent:   in.UserAgent,
	}
	if err := s.Sessions.Create(ctx, session); err != nil {
		return nil, unknownError(ec, "create session", err)
	}
	issued, err := s.Tokens.IssueNew(ctx, TokenIssueRequest{
		UserID:    user.ID,
		DeviceID:  device.ID,
		SessionID: session.ID,
		EndOfLife: *expiry,
	})
	if err != nil {
		return nil, unknownError(ec, "issue refresh token", err)
	}
	access, err := s.Tokens.SignAccessToken(security.AccessSubject{
		UserID:         user.ID,
		OrganisationID: org.ID,
		DeviceID:       device.ID,
		SessionID:      session.ID,
		Role:           string(user.Role),
	})
	if err != nil {
		return nil, unknownError(ec, "sign access token", err)
	}

	if err := s.Users.ResetFailedLogins(ctx, user.ID); err != nil {
		slog.WarnContext(ctx, "reset failed login counter", "user_id", user.ID, "error", err)
	}
	if err := s.RateLimiter.Reset(ctx, RateLimitScopeLogin, in.IPAddress); err != nil {
		slog.WarnContext(ctx, "reset login rate limit", "error", err)
	}
	s.appendAudit(ctx, AuditEvent{
		Action:   AuditActionLogin,
		Success:  true,
		Severity: domain.SeveritySuccess,
		Detail:   "login succeeded",
		Context:  ec,
		Attributes: map[string]any{
			"new_device":   isNewDevice,
			"risk":         risk.String(),
			"session_id":   session.ID,
			"token_family": issued.Token.TokenFamilyID,
			"mfa":          mfaValidated != nil,
		},
	})

	return &LoginResult{
		Success:       true,
		AccessToken:   access,
		RefreshToken:  issued.Plaintext,
		RefreshExpiry: issued.Token.EndOfLife,
		DeviceCookie: in.DeviceCookie.WithLastUsed(security.DeviceAccount{
			OrganisationID: org.ID,
			UserID:         user.ID,
			DeviceID:       device.ID,
		}),
		UserID:    user.ID,
		DeviceID:  device.ID,
		SessionID: session.ID,
	}, nil
}

func (s *AuthService) findOrganisation(ctx context.Context, code string) (*domain.Organisation, error) {
	if missed, err := s.LookupMisses.Missed(ctx, lookupNamespaceOrganisation, code); err != nil {
		slog.WarnContext(ctx, "lookup miss cache read failed", "error", err)
	} else if missed {
		observability.RecordLookupMissCache(ctx, lookupNamespaceOrganisation, "hit")
		return nil, repository.ErrOrganisationNotFound
	}
	org, err := s.Organisations.FindByCode(ctx, code)
	if errors.Is(err, repository.ErrOrganisationNotFound) {
		observability.RecordLookupMissCache(ctx, lookupNamespaceOrganisation, "store")
		if err := s.LookupMisses.RememberMiss(ctx, lookupNamespaceOrganisation, code, s.cfg.LookupMissTTL); err != nil {
			slog.WarnContext(ctx, "lookup miss cache write failed", "error", err)
		}
	}
	return org, err
}

// knownDevice resolves the device recorded in the cookie for this account and
// scores the request against it. Unknown devices score LOW.
func (s *AuthService) knownDevice(ctx context.Context, cookie security.DeviceCookie, orgID, userID uint, signal DeviceSignal) (*domain.Device, FingerprintResult) {
	deviceID, ok := cookie.DeviceFor(orgID, userID)
	if !ok {
		return nil, FingerprintResult{Risk: domain.RiskLow}
	}
	device, err := s.Devices.FindByIDForUser(ctx, deviceID, userID)
	if err != nil || !device.IsValid {
		if err != nil && !errors.Is(err, repository.ErrDeviceNotFound) {
			slog.WarnContext(ctx, "device lookup failed, treating as new device", "device_id", deviceID, "error", err)
		}
		return nil, FingerprintResult{Risk: domain.RiskLow}
	}
	signal.DeviceID = deviceID
	return device, ValidateFingerprint(signal, DeviceBaseline{
		IPAddress:           device.LastIPAddress,
		SerializedUserAgent: device.LastUserAgent,
		DeviceID:            device.ID,
	})
}

func (s *AuthService) wrongPassword(ctx context.Context, user *domain.User, ec ErrorContext) *AuthError {
	if !user.IsActive {
		return invalidCredentials(ec, "wrong password for inactive user")
	}
	res, err := s.Users.RecordFailedLogin(ctx, user.ID, s.cfg.LockoutThreshold)
	if err != nil {
		return unknownError(ec, "record failed login", err)
	}
	if !res.Locked {
		return invalidCredentials(ec, "wrong password")
	}
	if _, err := s.Tokens.RevokeUser(ctx, user.ID, repository.RevokeReasonLockout); err != nil {
		slog.ErrorContext(ctx, "revoke tokens for locked user", "user_id", user.ID, "error", err)
	}
	if err := s.Notifier.NotifyBlockedAccount(ctx, user.ID); err != nil {
		slog.WarnContext(ctx, "blocked account notification failed", "user_id", user.ID, "error", err)
	}
	fail := authFailed(ec, domain.SeverityCritical, "account locked after repeated failures")
	fail.Outcome = OutcomeUserBlocked
	return fail
}

// Refresh exchanges the presented refresh token for a new one. With an
// idempotency key, retries of a completed exchange replay its response.
func (s *AuthService) Refresh(ctx context.Context, in RefreshInput) (*RefreshResult, error) {
	start := s.now()
	ctx, span := observability.Tracer().Start(ctx, "auth.refresh")
	defer span.End()
	span.SetAttributes(attribute.Bool("idempotency.key_present", in.IdempotencyKey != ""))

	res, err := s.refreshWithPreconditions(ctx, in)
	elapsed := float64(s.now().Sub(start).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		s.recordFailure(ctx, AuditActionRefresh, RateLimitScopeRefresh, in.IPAddress, err)
		observability.RecordAuthRefresh(ctx, failureStatus(err), elapsed)
		return nil, err
	}
	status := "success"
	if res.Replayed {
		status = "replayed"
	}
	observability.RecordAuthRefresh(ctx, status, elapsed)
	return res, nil
}

func (s *AuthService) refreshWithPreconditions(ctx context.Context, in RefreshInput) (*RefreshResult, error) {
	ec := ErrorContext{IPAddress: in.IPAddress, UserAgent: in.UserAgent}
	if strings.TrimSpace(in.IPAddress) == "" {
		return nil, authFailed(ec, domain.SeverityInfo, "client ip missing")
	}
	if err := s.checkRateLimit(ctx, RateLimitScopeRefresh, ec); err != nil {
		return nil, err
	}
	if in.IdempotencyKey == "" {
		return s.refresh(ctx, in)
	}
	return s.refreshIdempotent(ctx, in)
}

func (s *AuthService) refresh(ctx context.Context, in RefreshInput) (*RefreshResult, error) {
	ec := ErrorContext{IPAddress: in.IPAddress, UserAgent: in.UserAgent}
	acct := in.DeviceCookie.LastUsedAccount
	if acct == nil || acct.DeviceID == "" {
		return nil, authFailed(ec, domain.SeverityInfo, "device cookie missing")
	}
	ec.OrganisationID, ec.DeviceID = acct.OrganisationID, acct.DeviceID
	if in.RefreshToken == "" {
		return nil, authFailed(ec, domain.SeverityInfo, "refresh token missing")
	}

	tok, err := s.Tokens.FindByPlaintext(ctx, in.RefreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, authFailed(ec, domain.SeverityInfo, "unknown refresh token")
		}
		return nil, unknownError(ec, "load refresh token", err)
	}
	ec.UserID = tok.UserID
	signal := DeviceSignal{IPAddress: in.IPAddress, UserAgent: security.ParseUserAgent(in.UserAgent), DeviceID: acct.DeviceID}

	if tok.IsUsed() {
		authErr, _ := s.Responder.Respond(ctx, ReuseIncident{
			Token:              tok,
			Current:            signal,
			CoordinatorEnabled: s.Coordinator.Enabled(),
			Context:            ec,
		})
		return nil, authErr
	}
	if tok.Status != domain.TokenStatusActive {
		return nil, authFailed(ec, domain.SeverityInfo, "refresh token revoked")
	}

	now := s.now().UTC()
	session, err := s.Sessions.FindByID(ctx, tok.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, authFailed(ec, domain.SeverityInfo, "session not found")
		}
		return nil, unknownError(ec, "load session", err)
	}
	if !session.IsValid {
		return nil, authFailed(ec, domain.SeverityInfo, "session invalidated")
	}
	if !now.Before(tok.EndOfLife) {
		return nil, authFailed(ec, domain.SeverityInfo, "refresh token expired")
	}
	if now.Sub(tok.IssuedAt) > s.cfg.SessionInactivityWindow && tok.EndOfLife.Sub(now) < s.cfg.SessionReactivationMinRemaining {
		return nil, authFailed(ec, domain.SeverityInfo, "stale session lacks lifetime to reactivate")
	}

	user, err := s.Users.FindByIDIncludingDeleted(ctx, tok.UserID)
	if err != nil {
		return nil, lookupFailure(ec, "user", err)
	}
	switch {
	case user.DeletedAt.Valid:
		return nil, authFailed(ec, domain.SeverityInfo, "user deleted")
	case !user.IsActive:
		return nil, authFailed(ec, domain.SeverityInfo, "user inactive")
	case user.ForcePasswordChange:
		return nil, authFailed(ec, domain.SeverityInfo, "password change pending")
	case user.OrganisationID != acct.OrganisationID || user.ID != acct.UserID:
		return nil, authFailed(ec, domain.SeverityWarning, "organisation mismatch")
	}

	device, err := s.Devices.FindByIDForUser(ctx, tok.DeviceID, user.ID)
	if err != nil {
		return nil, lookupFailure(ec, "device", err)
	}
	if !device.IsValid {
		return nil, authFailed(ec, domain.SeverityInfo, "device invalidated")
	}
	fp := ValidateFingerprint(signal, DeviceBaseline{
		IPAddress:           device.LastIPAddress,
		SerializedUserAgent: device.LastUserAgent,
		DeviceID:            tok.DeviceID,
	})
	if fp.Risk >= domain.RiskHigh {
		severity := domain.SeverityInfo
		if fp.Risk == domain.RiskSevere {
			severity = domain.SeverityCritical
		}
		fail := authFailed(ec, severity, "fingerprint risk "+fp.Risk.String()+": "+strings.Join(fp.Reasons, ", "))
		return nil, fail
	}

	expiry := s.Lifetime.Calculate(SessionLifetimeInput{
		Risk:                   fp.Risk,
		LastMFAValidation:      device.LastMFAAt,
		MFAMethod:              device.LastMFAMethod,
		LastPasswordValidation: session.LastLoginAt,
		Role:                   user.Role,
	})
	if expiry == nil || !expiry.After(now) {
		return nil, authFailed(ec, domain.SeverityInfo, "password reauthentication required")
	}

	serializedUA := signal.UserAgent.Serialize()
	issued, err := s.Tokens.Rotate(ctx, TokenRotateRequest{
		Current:             tok,
		IPAddress:           in.IPAddress,
		SerializedUserAgent: serializedUA,
		EndOfLife:           *expiry,
	})
	if errors.Is(err, repository.ErrTokenNotRotatable) {
		evidence, reloadErr := s.Tokens.Reload(ctx, tok.ID)
		if reloadErr != nil {
			evidence = tok
		}
		authErr, _ := s.Responder.Respond(ctx, ReuseIncident{
			Token:              evidence,
			Current:            signal,
			CoordinatorEnabled: s.Coordinator.Enabled(),
			Context:            ec,
		})
		return nil, authErr
	}
	if err != nil {
		return nil, unknownError(ec, "rotate refresh token", err)
	}

	if err := s.Devices.UpdateSignals(ctx, device.ID, repository.DeviceSignals{IPAddress: in.IPAddress, UserAgent: serializedUA}); err != nil {
		slog.WarnContext(ctx, "update device signals after refresh", "device_id", device.ID, "error", err)
	}
	access, err := s.Tokens.SignAccessToken(security.AccessSubject{
		UserID:         user.ID,
		OrganisationID: user.OrganisationID,
		DeviceID:       device.ID,
		SessionID:      session.ID,
		Role:           string(user.Role),
	})
	if err != nil {
		return nil, unknownError(ec, "sign access token", err)
	}

	s.appendAudit(ctx, AuditEvent{
		Action:   AuditActionRefresh,
		Success:  true,
		Severity: domain.SeveritySuccess,
		Detail:   "refresh token rotated",
		Context:  ec,
		Attributes: map[string]any{
			"risk":         fp.Risk.String(),
			"reasons":      fp.Reasons,
			"token_family": tok.TokenFamilyID,
			"rotated_from": tok.ID,
		},
	})
	return &RefreshResult{
		Response: RefreshResponse{
			Status:      200,
			Message:     "Token refreshed",
			AccessToken: access,
			ExpiresIn:   int64(s.Tokens.AccessTTL().Seconds()),
		},
		RefreshToken:  issued.Plaintext,
		RefreshExpiry: issued.Token.EndOfLife,
	}, nil
}

// Logout revokes the presented token and every token of its device. It is
// idempotent: unknown tokens are accepted silently.
func (s *AuthService) Logout(ctx context.Context, in LogoutInput) error {
	ctx, span := observability.Tracer().Start(ctx, "auth.logout")
	defer span.End()

	ec := ErrorContext{IPAddress: in.IPAddress, UserAgent: in.UserAgent}
	if in.RefreshToken == "" {
		observability.RecordAuthLogout(ctx, "no_token")
		return nil
	}
	tok, err := s.Tokens.FindByPlaintext(ctx, in.RefreshToken)
	if errors.Is(err, repository.ErrRefreshTokenNotFound) {
		observability.RecordAuthLogout(ctx, "unknown_token")
		return nil
	}
	if err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return unknownError(ec, "load refresh token", err)
	}
	ec.UserID, ec.DeviceID = tok.UserID, tok.DeviceID

	if _, err := s.Tokens.RevokeToken(ctx, tok.ID, repository.RevokeReasonLogout); err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return unknownError(ec, "revoke refresh token", err)
	}
	revoked, err := s.Tokens.RevokeDevice(ctx, tok.DeviceID, repository.RevokeReasonLogout)
	if err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return unknownError(ec, "revoke device tokens", err)
	}
	s.appendAudit(ctx, AuditEvent{
		Action:     AuditActionLogout,
		Success:    true,
		Severity:   domain.SeveritySuccess,
		Detail:     "logged out",
		Context:    ec,
		Attributes: map[string]any{"device_tokens_revoked": revoked},
	})
	observability.RecordAuthLogout(ctx, "success")
	return nil
}

func (s *AuthService) checkRateLimit(ctx context.Context, scope RateLimitScope, ec ErrorContext) error {
	decision, err := s.RateLimiter.Check(ctx, scope, ec.IPAddress)
	if err != nil {
		slog.WarnContext(ctx, "rate limit check failed, allowing request", "scope", string(scope), "error", err)
		observability.RecordRateLimitDecision(ctx, string(scope), "backend_error")
		return nil
	}
	if !decision.Allowed {
		observability.RecordRateLimitDecision(ctx, string(scope), "deny")
		return &AuthError{
			Kind:       KindTooManyRequests,
			Severity:   domain.SeverityWarning,
			Reason:     string(scope) + " failure budget exhausted",
			Context:    ec,
			RetryAfter: decision.RetryAfter,
		}
	}
	observability.RecordRateLimitDecision(ctx, string(scope), "allow")
	return nil
}

// recordFailure writes the FAILURE audit entry and consumes rate-limit
// budget for every failure except throttling itself.
func (s *AuthService) recordFailure(ctx context.Context, action string, scope RateLimitScope, ip string, err error) {
	authErr, ok := AsAuthError(err)
	if !ok {
		authErr = unknownError(ErrorContext{IPAddress: ip}, "unclassified", err)
	}
	attrs := map[string]any{"kind": string(authErr.Kind)}
	if authErr.Outcome != "" {
		attrs["outcome"] = authErr.Outcome
	}
	if authErr.Err != nil {
		attrs["cause"] = authErr.Err.Error()
	}
	s.appendAudit(ctx, AuditEvent{
		Action:     action,
		Severity:   authErr.Severity,
		Detail:     authErr.Reason,
		Context:    authErr.Context,
		Attributes: attrs,
	})
	switch authErr.Kind {
	case KindTooManyRequests, KindRetryLater:
		return
	}
	if err := s.RateLimiter.RegisterFailure(ctx, scope, ip); err != nil {
		slog.WarnContext(ctx, "register rate limit failure", "scope", string(scope), "error", err)
	}
}

func (s *AuthService) appendAudit(ctx context.Context, ev AuditEvent) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Append(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "audit append failed", "action", ev.Action, "error", err)
	}
}

func invalidCredentials(ec ErrorContext, reason string) *AuthError {
	fail := authFailed(ec, domain.SeverityInfo, reason)
	fail.Outcome = OutcomeInvalidCredentials
	return fail
}

func lookupFailure(ec ErrorContext, entity string, err error) *AuthError {
	switch {
	case errors.Is(err, repository.ErrOrganisationNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrDeviceNotFound):
		return invalidCredentials(ec, entity+" not found")
	default:
		return unknownError(ec, "load "+entity, err)
	}
}

func failureStatus(err error) string {
	authErr, ok := AsAuthError(err)
	if !ok {
		return "error"
	}
	if authErr.Outcome == OutcomeUserBlocked {
		return "blocked"
	}
	return strings.ToLower(string(authErr.Kind))
}
