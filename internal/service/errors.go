package service

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
)

type ErrorKind string

const (
	KindAuthenticationFailed ErrorKind = "AuthenticationFailed"
	KindRefreshTokenReuse    ErrorKind = "RefreshTokenReuseDetected"
	KindTooManyRequests      ErrorKind = "TooManyRequests"
	KindUnknown              ErrorKind = "UnknownError"
	KindIdempotencyMismatch  ErrorKind = "IdempotencyMismatch"
	KindRetryLater           ErrorKind = "RetryLater"
)

// Login outcomes reported to the caller alongside the generic error.
const (
	OutcomeInvalidCredentials     = "Invalid Credentials"
	OutcomeUserBlocked            = "User Blocked"
	OutcomeInvalidSecondFactor    = "Invalid Second Factor"
	OutcomePasswordChangeRequired = "Password Change Required"
	OutcomeMFARequired            = "MFA Required"
)

// ErrorContext is the request bundle every auth error carries into the audit sink.
type ErrorContext struct {
	IPAddress      string
	UserAgent      string
	OrganisationID uint
	UserID         uint
	DeviceID       string
}

type AuthError struct {
	Kind       ErrorKind
	Severity   domain.Severity
	Reason     string
	Outcome    string
	Context    ErrorContext
	RetryAfter time.Duration
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) HTTPStatus() int {
	switch e.Kind {
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindIdempotencyMismatch:
		return http.StatusForbidden
	case KindRetryLater:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage never names the check that failed.
func (e *AuthError) PublicMessage() string {
	switch e.Kind {
	case KindAuthenticationFailed:
		return "Authentication failed"
	case KindTooManyRequests:
		return "Too many requests"
	case KindIdempotencyMismatch:
		return "Request does not match the original"
	case KindRetryLater:
		return "Request in progress, retry later"
	default:
		return "Internal server error"
	}
}

// DestroysSession reports whether the caller's refresh cookie must be cleared.
func (e *AuthError) DestroysSession() bool {
	switch e.Kind {
	case KindAuthenticationFailed:
		return true
	case KindRefreshTokenReuse:
		return e.Severity == domain.SeverityCritical
	default:
		return false
	}
}

func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

func authFailed(ec ErrorContext, severity domain.Severity, reason string) *AuthError {
	return &AuthError{Kind: KindAuthenticationFailed, Severity: severity, Reason: reason, Context: ec}
}

func unknownError(ec ErrorContext, reason string, err error) *AuthError {
	return &AuthError{Kind: KindUnknown, Severity: domain.SeverityCritical, Reason: reason, Context: ec, Err: err}
}
