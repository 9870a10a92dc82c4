package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/security"
	"github.com/sandeepkv93/session-guard/internal/service"
)

type fakeAuthService struct {
	loginRes    *service.LoginResult
	loginErr    error
	lastLogin   service.LoginInput
	refreshRes  *service.RefreshResult
	refreshErr  error
	lastRefresh service.RefreshInput
	logoutErr   error
	lastLogout  service.LogoutInput
}

func (f *fakeAuthService) Login(_ context.Context, in service.LoginInput) (*service.LoginResult, error) {
	f.lastLogin = in
	return f.loginRes, f.loginErr
}

func (f *fakeAuthService) Refresh(_ context.Context, in service.RefreshInput) (*service.RefreshResult, error) {
	f.lastRefresh = in
	return f.refreshRes, f.refreshErr
}

func (f *fakeAuthService) Logout(_ context.Context, in service.LogoutInput) error {
	f.lastLogout = in
	return f.logoutErr
}

var testCookies = security.CookieSettings{
	RefreshName: "refresh_token",
	RefreshPath: "/api/v1/auth/refresh",
	DeviceName:  "device_accounts",
	DeviceTTL:   time.Hour,
	Secure:      true,
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func deviceCookieFor(t *testing.T, deviceID string) *http.Cookie {
	t.Helper()
	v, err := security.EncodeDeviceCookie(security.DeviceCookie{
		LastUsedAccount: &security.DeviceAccount{OrganisationID: 1, UserID: 7, DeviceID: deviceID},
	})
	if err != nil {
		t.Fatalf("encode device cookie: %v", err)
	}
	return &http.Cookie{Name: testCookies.DeviceName, Value: v}
}

func TestLoginSetsCookiesOnSuccess(t *testing.T) {
	expiry := time.Now().Add(72 * time.Hour).UTC()
	fake := &fakeAuthService{loginRes: &service.LoginResult{
		Success:       true,
		AccessToken:   "access",
		RefreshToken:  "refresh-secret",
		RefreshExpiry: expiry,
		DeviceCookie: security.DeviceCookie{
			LastUsedAccount: &security.DeviceAccount{OrganisationID: 1, UserID: 7, DeviceID: "dev-1"},
		},
	}}
	h := NewAuthHandler(fake, testCookies)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"organisationCode":"acme","username":"alice","password":"pw"}`))
	req.RemoteAddr = "203.0.113.10:5555"
	req.Header.Set("User-Agent", "test-agent")
	rr := httptest.NewRecorder()
	h.Login(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if fake.lastLogin.IPAddress != "203.0.113.10" || fake.lastLogin.UserAgent != "test-agent" || fake.lastLogin.OrganisationCode != "acme" {
		t.Fatalf("unexpected login input: %+v", fake.lastLogin)
	}
	refresh := findCookie(rr, "refresh_token")
	if refresh == nil || refresh.Value != "refresh-secret" || refresh.Path != "/api/v1/auth/refresh" {
		t.Fatalf("unexpected refresh cookie: %+v", refresh)
	}
	if !refresh.HttpOnly || !refresh.Secure || refresh.SameSite != http.SameSiteStrictMode {
		t.Fatalf("refresh cookie must be httpOnly, secure and strict: %+v", refresh)
	}
	device := findCookie(rr, "device_accounts")
	if device == nil || device.Path != "/" {
		t.Fatalf("expected device cookie on /, got %+v", device)
	}
	decoded, err := security.DecodeDeviceCookie(device.Value)
	if err != nil || decoded.LastUsedAccount.DeviceID != "dev-1" {
		t.Fatalf("unexpected device cookie payload: %+v %v", decoded, err)
	}
	if !strings.Contains(rr.Body.String(), `"accessToken":"access"`) {
		t.Fatalf("expected access token in body, got %s", rr.Body.String())
	}
}

func TestLoginFailureReportsKindAndClearsCookie(t *testing.T) {
	fake := &fakeAuthService{loginErr: &service.AuthError{
		Kind:     service.KindAuthenticationFailed,
		Severity: domain.SeverityCritical,
		Reason:   "account locked after repeated failures",
		Outcome:  service.OutcomeUserBlocked,
	}}
	h := NewAuthHandler(fake, testCookies)
	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`)))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"kind":"User Blocked"`) || strings.Contains(body, "account locked") {
		t.Fatalf("expected failure kind without internal reason, got %s", body)
	}
	if c := findCookie(rr, "refresh_token"); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected refresh cookie cleared, got %+v", c)
	}
}

func TestLoginMalformedBodyStillReachesService(t *testing.T) {
	fake := &fakeAuthService{loginErr: &service.AuthError{Kind: service.KindUnknown, Severity: domain.SeverityInfo}}
	h := NewAuthHandler(fake, testCookies)
	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`not json`)))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if fake.lastLogin.Username != "" {
		t.Fatalf("expected empty credentials forwarded, got %+v", fake.lastLogin)
	}
}

func TestLoginMFAChallenge(t *testing.T) {
	fake := &fakeAuthService{loginRes: &service.LoginResult{Kind: service.OutcomeMFARequired, MFAMethod: domain.MFAMethodTOTP}}
	h := NewAuthHandler(fake, testCookies)
	rr := httptest.NewRecorder()
	h.Login(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{}`)))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"MFA_REQUIRED"`) || !strings.Contains(rr.Body.String(), `"mfaMethod":"totp"`) {
		t.Fatalf("unexpected challenge body: %s", rr.Body.String())
	}
}

func TestRefreshRotatesCookie(t *testing.T) {
	expiry := time.Now().Add(24 * time.Hour).UTC()
	fake := &fakeAuthService{refreshRes: &service.RefreshResult{
		Response:      service.RefreshResponse{Status: 200, Message: "Token refreshed", AccessToken: "access", ExpiresIn: 900},
		RefreshToken:  "next-secret",
		RefreshExpiry: expiry,
		Replayed:      true,
	}}
	h := NewAuthHandler(fake, testCookies)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "old-secret"})
	req.AddCookie(deviceCookieFor(t, "dev-1"))
	req.Header.Set(IdempotencyKeyHeader, " key-1 ")
	rr := httptest.NewRecorder()
	h.Refresh(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	in := fake.lastRefresh
	if in.RefreshToken != "old-secret" || in.IdempotencyKey != "key-1" || in.DeviceCookie.LastUsedAccount == nil || in.DeviceCookie.LastUsedAccount.DeviceID != "dev-1" {
		t.Fatalf("unexpected refresh input: %+v", in)
	}
	var body service.RefreshResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != 200 || body.Message != "Token refreshed" || body.AccessToken != "access" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if c := findCookie(rr, "refresh_token"); c == nil || c.Value != "next-secret" {
		t.Fatalf("expected rotated cookie, got %+v", c)
	}
	if rr.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay marker header")
	}
}

func TestRefreshErrorsMapToStatusAndCookiePolicy(t *testing.T) {
	cases := []struct {
		name         string
		err          *service.AuthError
		wantStatus   int
		wantCleared  bool
		wantRetryHdr string
	}{
		{"authentication failed", &service.AuthError{Kind: service.KindAuthenticationFailed, Severity: domain.SeverityInfo}, 401, true, ""},
		{"critical reuse", &service.AuthError{Kind: service.KindRefreshTokenReuse, Severity: domain.SeverityCritical}, 500, true, ""},
		{"benign reuse", &service.AuthError{Kind: service.KindRefreshTokenReuse, Severity: domain.SeverityWarning}, 500, false, ""},
		{"rate limited", &service.AuthError{Kind: service.KindTooManyRequests, Severity: domain.SeverityWarning, RetryAfter: 42 * time.Second}, 429, false, "42"},
		{"idempotency mismatch", &service.AuthError{Kind: service.KindIdempotencyMismatch, Severity: domain.SeverityCritical}, 403, false, ""},
		{"retry later", &service.AuthError{Kind: service.KindRetryLater, Severity: domain.SeverityWarning, RetryAfter: time.Second}, 503, false, "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAuthHandler(&fakeAuthService{refreshErr: tc.err}, testCookies)
			rr := httptest.NewRecorder()
			h.Refresh(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			cleared := findCookie(rr, "refresh_token") != nil
			if cleared != tc.wantCleared {
				t.Fatalf("cookie cleared=%v want %v", cleared, tc.wantCleared)
			}
			if got := rr.Header().Get("Retry-After"); got != tc.wantRetryHdr {
				t.Fatalf("Retry-After=%q want %q", got, tc.wantRetryHdr)
			}
			var body service.RefreshResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Status != tc.wantStatus || body.AccessToken != "" {
				t.Fatalf("unexpected body %s (%v)", rr.Body.String(), err)
			}
		})
	}
}

func TestLogoutClearsRefreshCookie(t *testing.T) {
	fake := &fakeAuthService{}
	h := NewAuthHandler(fake, testCookies)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh/logout", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "secret"})
	rr := httptest.NewRecorder()
	h.Logout(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if fake.lastLogout.RefreshToken != "secret" {
		t.Fatalf("expected token forwarded, got %+v", fake.lastLogout)
	}
	if c := findCookie(rr, "refresh_token"); c == nil || c.Value != "" {
		t.Fatalf("expected cleared cookie, got %+v", c)
	}
}
