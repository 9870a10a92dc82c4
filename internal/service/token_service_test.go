package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"
)

type inMemoryTokenRepo struct {
	mu     sync.Mutex
	byID   map[string]*domain.RefreshToken
	rotErr error
}

func newInMemoryTokenRepo() *inMemoryTokenRepo {
	return &inMemoryTokenRepo{byID: map[string]*domain.RefreshToken{}}
}

func (r *inMemoryTokenRepo) IssueExclusive(_ context.Context, token *domain.RefreshToken) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var revoked int64
	for _, t := range r.byID {
		if t.UserID == token.UserID && t.DeviceID == token.DeviceID && t.Status == domain.TokenStatusActive {
			t.Status = domain.TokenStatusRevoked
			revoked++
		}
	}
	cp := *token
	r.byID[cp.ID] = &cp
	return revoked, nil
}

func (r *inMemoryTokenRepo) Rotate(_ context.Context, in repository.RotateInput, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rotErr != nil {
		return r.rotErr
	}
	cur, ok := r.byID[in.TokenID]
	if !ok || cur.Status != domain.TokenStatusActive || cur.UsedAt != nil {
		return repository.ErrTokenNotRotatable
	}
	usedAt, ip, ua := in.UsedAt, in.IPAddress, in.UserAgent
	cur.Status = domain.TokenStatusRotated
	cur.UsedAt = &usedAt
	cur.UsedIPAddress = &ip
	cur.UsedUserAgent = &ua
	cp := *in.Next
	r.byID[cp.ID] = &cp
	return nil
}

func (r *inMemoryTokenRepo) FindByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrRefreshTokenNotFound
}

func (r *inMemoryTokenRepo) FindByID(_ context.Context, id string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTokenRepo) revokeWhere(match func(*domain.RefreshToken) bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.byID {
		if t.Status == domain.TokenStatusActive && match(t) {
			t.Status = domain.TokenStatusRevoked
			n++
		}
	}
	return n, nil
}

func (r *inMemoryTokenRepo) RevokeByID(_ context.Context, id, _ string) (int64, error) {
	return r.revokeWhere(func(t *domain.RefreshToken) bool { return t.ID == id })
}

func (r *inMemoryTokenRepo) RevokeByFamily(_ context.Context, familyID, _ string) (int64, error) {
	return r.revokeWhere(func(t *domain.RefreshToken) bool { return t.TokenFamilyID == familyID })
}

func (r *inMemoryTokenRepo) RevokeByDevice(_ context.Context, deviceID, _ string) (int64, error) {
	return r.revokeWhere(func(t *domain.RefreshToken) bool { return t.DeviceID == deviceID })
}

func (r *inMemoryTokenRepo) RevokeByUser(_ context.Context, userID uint, _ string) (int64, error) {
	return r.revokeWhere(func(t *domain.RefreshToken) bool { return t.UserID == userID })
}

func (r *inMemoryTokenRepo) CountActive(_ context.Context, userID uint, deviceID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, t := range r.byID {
		if t.UserID == userID && t.DeviceID == deviceID && t.Status == domain.TokenStatusActive {
			n++
		}
	}
	return n, nil
}

func newTestTokenService(repo repository.RefreshTokenRepository) *TokenService {
	jwtMgr := security.NewJWTManager("iss", "aud", "0123456789abcdef0123456789abcdef")
	return NewTokenService(jwtMgr, repo, "pepper", 15*time.Minute, time.Second)
}

func TestTokenServiceIssueNewStartsFamily(t *testing.T) {
	repo := newInMemoryTokenRepo()
	svc := newTestTokenService(repo)
	eol := time.Now().Add(72 * time.Hour)

	first, err := svc.IssueNew(context.Background(), TokenIssueRequest{UserID: 1, DeviceID: "dev-1", SessionID: "s-1", EndOfLife: eol})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if first.Plaintext == "" || first.Token.TokenHash == first.Plaintext {
		t.Fatal("expected plaintext secret distinct from stored hash")
	}
	if first.Token.TokenHash != svc.HashSecret(first.Plaintext) {
		t.Fatal("stored hash does not match plaintext")
	}
	if first.Token.RotatedFromTokenID != nil || first.Token.TokenFamilyID == "" {
		t.Fatalf("expected root of a new family, got %+v", first.Token)
	}

	second, err := svc.IssueNew(context.Background(), TokenIssueRequest{UserID: 1, DeviceID: "dev-1", SessionID: "s-2", EndOfLife: eol})
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if second.Token.TokenFamilyID == first.Token.TokenFamilyID {
		t.Fatal("expected fresh family id per login")
	}
	if n, _ := repo.CountActive(context.Background(), 1, "dev-1"); n != 1 {
		t.Fatalf("expected one active token per device, got %d", n)
	}
}

func TestTokenServiceRotateKeepsFamilyAndLinksParent(t *testing.T) {
	repo := newInMemoryTokenRepo()
	svc := newTestTokenService(repo)
	issued, err := svc.IssueNew(context.Background(), TokenIssueRequest{UserID: 1, DeviceID: "dev-1", SessionID: "s-1", EndOfLife: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	next, err := svc.Rotate(context.Background(), TokenRotateRequest{
		Current:             issued.Token,
		IPAddress:           "198.51.100.7",
		SerializedUserAgent: "ua",
		EndOfLife:           time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if next.Token.TokenFamilyID != issued.Token.TokenFamilyID {
		t.Fatal("family id changed across rotation")
	}
	if next.Token.RotatedFromTokenID == nil || *next.Token.RotatedFromTokenID != issued.Token.ID {
		t.Fatal("successor does not point at its parent")
	}

	old, err := svc.Reload(context.Background(), issued.Token.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if old.Status != domain.TokenStatusRotated || old.UsedAt == nil || old.UsedIPAddress == nil || *old.UsedIPAddress != "198.51.100.7" {
		t.Fatalf("parent not marked used: %+v", old)
	}

	_, err = svc.Rotate(context.Background(), TokenRotateRequest{Current: issued.Token, EndOfLife: time.Now().Add(time.Hour)})
	if !errors.Is(err, repository.ErrTokenNotRotatable) {
		t.Fatalf("expected ErrTokenNotRotatable on second use, got %v", err)
	}
}

func TestTokenServiceRotatePassesThroughStoreErrors(t *testing.T) {
	repo := newInMemoryTokenRepo()
	svc := newTestTokenService(repo)
	issued, err := svc.IssueNew(context.Background(), TokenIssueRequest{UserID: 1, DeviceID: "dev-1", EndOfLife: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	boom := errors.New("connection reset")
	repo.rotErr = boom
	if _, err := svc.Rotate(context.Background(), TokenRotateRequest{Current: issued.Token, EndOfLife: time.Now().Add(time.Hour)}); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestTokenServiceRevokeHelpers(t *testing.T) {
	repo := newInMemoryTokenRepo()
	svc := newTestTokenService(repo)
	ctx := context.Background()
	eol := time.Now().Add(time.Hour)

	a, _ := svc.IssueNew(ctx, TokenIssueRequest{UserID: 1, DeviceID: "dev-a", EndOfLife: eol})
	b, _ := svc.IssueNew(ctx, TokenIssueRequest{UserID: 1, DeviceID: "dev-b", EndOfLife: eol})
	c, _ := svc.IssueNew(ctx, TokenIssueRequest{UserID: 2, DeviceID: "dev-c", EndOfLife: eol})

	if n, _ := svc.RevokeFamily(ctx, a.Token.TokenFamilyID, "test"); n != 1 {
		t.Fatalf("revoke family: got %d", n)
	}
	if n, _ := svc.RevokeDevice(ctx, b.Token.DeviceID, "test"); n != 1 {
		t.Fatalf("revoke device: got %d", n)
	}
	if n, _ := svc.RevokeUser(ctx, 1, "test"); n != 0 {
		t.Fatalf("user 1 should have no active tokens left, revoked %d", n)
	}
	if n, _ := svc.RevokeToken(ctx, c.Token.ID, "test"); n != 1 {
		t.Fatalf("revoke token: got %d", n)
	}
}

func TestTokenServiceSignAccessToken(t *testing.T) {
	svc := newTestTokenService(newInMemoryTokenRepo())
	raw, err := svc.SignAccessToken(security.AccessSubject{UserID: 7, OrganisationID: 3, DeviceID: "dev", SessionID: "sess", Role: "member"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := svc.jwtMgr.ParseAccessToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.DeviceID != "dev" || claims.SessionID != "sess" || claims.OrganisationID != 3 {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if svc.AccessTTL() != 15*time.Minute {
		t.Fatalf("unexpected ttl %s", svc.AccessTTL())
	}
}
