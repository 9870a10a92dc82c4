package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TokenService is the only writer of refresh token status.
type TokenService struct {
	jwtMgr          *security.JWTManager
	tokenRepo       repository.RefreshTokenRepository
	pepper          string
	accessTTL       time.Duration
	rotationTimeout time.Duration
	now             func() time.Time
}

// IssuedToken pairs the stored row with the plaintext secret, which is never
// persisted.
type IssuedToken struct {
	Token     *domain.RefreshToken
	Plaintext string
}

type TokenIssueRequest struct {
	UserID    uint
	DeviceID  string
	SessionID string
	EndOfLife time.Time
}

type TokenRotateRequest struct {
	Current             *domain.RefreshToken
	IPAddress           string
	SerializedUserAgent string
	EndOfLife           time.Time
}

func NewTokenService(jwtMgr *security.JWTManager, tokenRepo repository.RefreshTokenRepository, pepper string, accessTTL, rotationTimeout time.Duration) *TokenService {
	return &TokenService{
		jwtMgr:          jwtMgr,
		tokenRepo:       tokenRepo,
		pepper:          pepper,
		accessTTL:       accessTTL,
		rotationTimeout: rotationTimeout,
		now:             time.Now,
	}
}

func (s *TokenService) HashSecret(plaintext string) string {
	return security.HashRefreshToken(plaintext, s.pepper)
}

// IssueNew starts a new token family for a login and revokes every other
// active token of the same user and device.
func (s *TokenService) IssueNew(ctx context.Context, req TokenIssueRequest) (*IssuedToken, error) {
	ctx, span := observability.Tracer().Start(ctx, "token.issue_new", trace.WithAttributes(
		attribute.String("device.id", req.DeviceID),
	))
	defer span.End()

	secret, err := security.NewRefreshTokenSecret()
	if err != nil {
		span.SetStatus(codes.Error, "secret")
		return nil, err
	}
	now := s.now().UTC()
	token := &domain.RefreshToken{
		ID:            uuid.NewString(),
		TokenHash:     s.HashSecret(secret),
		UserID:        req.UserID,
		DeviceID:      req.DeviceID,
		SessionID:     req.SessionID,
		IssuedAt:      now,
		EndOfLife:     req.EndOfLife.UTC(),
		Status:        domain.TokenStatusActive,
		TokenFamilyID: uuid.NewString(),
	}
	revoked, err := s.tokenRepo.IssueExclusive(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue")
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	span.SetAttributes(attribute.Int64("tokens.revoked", revoked))
	return &IssuedToken{Token: token, Plaintext: secret}, nil
}

// Rotate exchanges req.Current for a successor in the same family. It returns
// repository.ErrTokenNotRotatable when the token was already used; any other
// error is passed through unchanged.
func (s *TokenService) Rotate(ctx context.Context, req TokenRotateRequest) (*IssuedToken, error) {
	ctx, span := observability.Tracer().Start(ctx, "token.rotate", trace.WithAttributes(
		attribute.String("token.family_id", req.Current.TokenFamilyID),
	))
	defer span.End()

	secret, err := security.NewRefreshTokenSecret()
	if err != nil {
		span.SetStatus(codes.Error, "secret")
		return nil, err
	}
	now := s.now().UTC()
	parentID := req.Current.ID
	next := &domain.RefreshToken{
		ID:                 uuid.NewString(),
		TokenHash:          s.HashSecret(secret),
		UserID:             req.Current.UserID,
		DeviceID:           req.Current.DeviceID,
		SessionID:          req.Current.SessionID,
		IssuedAt:           now,
		EndOfLife:          req.EndOfLife.UTC(),
		Status:             domain.TokenStatusActive,
		TokenFamilyID:      req.Current.TokenFamilyID,
		RotatedFromTokenID: &parentID,
	}
	err = s.tokenRepo.Rotate(ctx, repository.RotateInput{
		TokenID:   req.Current.ID,
		UsedAt:    now,
		IPAddress: req.IPAddress,
		UserAgent: req.SerializedUserAgent,
		Next:      next,
	}, s.rotationTimeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rotate")
		return nil, err
	}
	return &IssuedToken{Token: next, Plaintext: secret}, nil
}

func (s *TokenService) SignAccessToken(sub security.AccessSubject) (string, error) {
	return s.jwtMgr.SignAccessToken(sub, s.accessTTL)
}

func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

func (s *TokenService) FindByPlaintext(ctx context.Context, plaintext string) (*domain.RefreshToken, error) {
	return s.tokenRepo.FindByHash(ctx, s.HashSecret(plaintext))
}

func (s *TokenService) Reload(ctx context.Context, id string) (*domain.RefreshToken, error) {
	return s.tokenRepo.FindByID(ctx, id)
}

func (s *TokenService) RevokeToken(ctx context.Context, id, reason string) (int64, error) {
	return s.tokenRepo.RevokeByID(ctx, id, reason)
}

func (s *TokenService) RevokeFamily(ctx context.Context, familyID, reason string) (int64, error) {
	return s.tokenRepo.RevokeByFamily(ctx, familyID, reason)
}

func (s *TokenService) RevokeDevice(ctx context.Context, deviceID, reason string) (int64, error) {
	return s.tokenRepo.RevokeByDevice(ctx, deviceID, reason)
}

func (s *TokenService) RevokeUser(ctx context.Context, userID uint, reason string) (int64, error) {
	return s.tokenRepo.RevokeByUser(ctx, userID, reason)
}
