package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/http/middleware"
	"github.com/sandeepkv93/session-guard/internal/http/response"
	"github.com/sandeepkv93/session-guard/internal/security"
	"github.com/sandeepkv93/session-guard/internal/service"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type AuthHandler struct {
	auth    service.AuthServiceInterface
	cookies security.CookieSettings
}

func NewAuthHandler(auth service.AuthServiceInterface, cookies security.CookieSettings) *AuthHandler {
	return &AuthHandler{auth: auth, cookies: cookies}
}

type loginRequest struct {
	OrganisationCode string `json:"organisationCode"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	SecondFactorCode string `json:"secondFactorCode,omitempty"`
}

type loginResponse struct {
	Success     bool             `json:"success"`
	Kind        string           `json:"kind,omitempty"`
	MFAMethod   domain.MFAMethod `json:"mfaMethod,omitempty"`
	AccessToken string           `json:"accessToken,omitempty"`
	ExpiresAt   string           `json:"refreshExpiresAt,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// An empty payload is rejected by the service, which also audits it
		// and charges the failure budget.
		req = loginRequest{}
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		OrganisationCode: req.OrganisationCode,
		Username:         req.Username,
		Password:         req.Password,
		SecondFactorCode: req.SecondFactorCode,
		DeviceCookie:     h.deviceCookie(r),
		IPAddress:        middleware.ClientIP(r),
		UserAgent:        r.UserAgent(),
	})
	if err != nil {
		security.ClearRefreshCookie(w, h.cookies)
		h.writeAuthError(w, r, err)
		return
	}
	if !res.Success {
		security.ClearRefreshCookie(w, h.cookies)
		response.Error(w, r, http.StatusUnauthorized, "MFA_REQUIRED", "second factor required", loginResponse{
			Kind:      res.Kind,
			MFAMethod: res.MFAMethod,
		})
		return
	}

	security.SetRefreshCookie(w, h.cookies, res.RefreshToken, res.RefreshExpiry)
	if err := security.SetDeviceCookie(w, h.cookies, res.DeviceCookie); err != nil {
		slog.ErrorContext(r.Context(), "encode device cookie", "error", err)
	}
	response.JSON(w, r, http.StatusOK, loginResponse{
		Success:     true,
		AccessToken: res.AccessToken,
		ExpiresAt:   res.RefreshExpiry.UTC().Format(time.RFC3339),
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.auth.Refresh(r.Context(), service.RefreshInput{
		RefreshToken:   security.GetCookie(r, h.cookies.RefreshName),
		DeviceCookie:   h.deviceCookie(r),
		IPAddress:      middleware.ClientIP(r),
		UserAgent:      r.UserAgent(),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
	})
	if err != nil {
		authErr := asAuthError(err)
		if authErr.DestroysSession() {
			security.ClearRefreshCookie(w, h.cookies)
		}
		if authErr.RetryAfter > 0 {
			middleware.WriteRetryAfter(w.Header(), authErr.RetryAfter)
		}
		status := authErr.HTTPStatus()
		response.Raw(w, status, service.RefreshResponse{Status: status, Message: authErr.PublicMessage()})
		return
	}
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	security.SetRefreshCookie(w, h.cookies, res.RefreshToken, res.RefreshExpiry)
	response.Raw(w, res.Response.Status, res.Response)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.auth.Logout(r.Context(), service.LogoutInput{
		RefreshToken: security.GetCookie(r, h.cookies.RefreshName),
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	security.ClearRefreshCookie(w, h.cookies)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) deviceCookie(r *http.Request) security.DeviceCookie {
	raw := security.GetCookie(r, h.cookies.DeviceName)
	if raw == "" {
		return security.DeviceCookie{}
	}
	c, err := security.DecodeDeviceCookie(raw)
	if err != nil {
		slog.WarnContext(r.Context(), "ignoring undecodable device cookie", "error", err)
		return security.DeviceCookie{}
	}
	return c
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	authErr := asAuthError(err)
	if authErr.RetryAfter > 0 {
		middleware.WriteRetryAfter(w.Header(), authErr.RetryAfter)
	}
	var details any
	if authErr.Outcome != "" {
		details = loginResponse{Kind: authErr.Outcome}
	}
	response.Error(w, r, authErr.HTTPStatus(), string(authErr.Kind), authErr.PublicMessage(), details)
}

func asAuthError(err error) *service.AuthError {
	if authErr, ok := service.AsAuthError(err); ok {
		return authErr
	}
	return &service.AuthError{Kind: service.KindUnknown, Severity: domain.SeverityCritical, Reason: "unclassified", Err: err}
}
