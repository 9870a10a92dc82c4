package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrTokenNotRotatable means the conditional rotation matched no row: the
	// token was already rotated, revoked, or used.
	ErrTokenNotRotatable = errors.New("refresh token is not rotatable")
)

const (
	RevokeReasonSuperseded = "superseded"
	RevokeReasonLogout     = "logout"
	RevokeReasonReuse      = "reuse_detected"
	RevokeReasonLockout    = "account_locked"
)

// RotateInput describes one compare-and-swap rotation.
type RotateInput struct {
	TokenID   string
	UsedAt    time.Time
	IPAddress string
	UserAgent string
	Next      *domain.RefreshToken
}

type RefreshTokenRepository interface {
	IssueExclusive(ctx context.Context, token *domain.RefreshToken) (int64, error)
	Rotate(ctx context.Context, in RotateInput, timeout time.Duration) error
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	FindByID(ctx context.Context, id string) (*domain.RefreshToken, error)
	RevokeByID(ctx context.Context, id, reason string) (int64, error)
	RevokeByFamily(ctx context.Context, familyID, reason string) (int64, error)
	RevokeByDevice(ctx context.Context, deviceID, reason string) (int64, error)
	RevokeByUser(ctx context.Context, userID uint, reason string) (int64, error)
	CountActive(ctx context.Context, userID uint, deviceID string) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

// IssueExclusive revokes every active token of the same (user, device) and
// inserts token in one transaction. It returns how many siblings were revoked.
func (r *GormRefreshTokenRepository) IssueExclusive(ctx context.Context, token *domain.RefreshToken) (int64, error) {
	var revoked int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := revokeActive(tx.Where("user_id = ? AND device_id = ?", token.UserID, token.DeviceID), RevokeReasonSuperseded)
		if res.Error != nil {
			return res.Error
		}
		revoked = res.RowsAffected
		return tx.Create(token).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "issue_exclusive", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "issue_exclusive", "success")
	return revoked, nil
}

// Rotate marks the presented token rotated only if it is still active and
// unused, then inserts its successor and revokes any other active token on the
// device. The whole exchange runs serializable and bounded by timeout.
func (r *GormRefreshTokenRepository) Rotate(ctx context.Context, in RotateInput, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.RefreshToken{}).
			Where("id = ? AND status = ? AND used_at IS NULL", in.TokenID, domain.TokenStatusActive).
			Updates(map[string]any{
				"status":          domain.TokenStatusRotated,
				"used_at":         in.UsedAt.UTC(),
				"used_ip_address": in.IPAddress,
				"used_user_agent": in.UserAgent,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTokenNotRotatable
		}
		if err := tx.Create(in.Next).Error; err != nil {
			return err
		}
		cleanup := tx.Where("device_id = ? AND id NOT IN ?", in.Next.DeviceID, []string{in.TokenID, in.Next.ID})
		return revokeActive(cleanup, RevokeReasonSuperseded).Error
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if isSerializationFailure(err) {
		err = ErrTokenNotRotatable
	}
	if err != nil {
		if errors.Is(err, ErrTokenNotRotatable) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "conflict")
		} else {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "success")
	return nil
}

func (r *GormRefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.findOne(ctx, "find_by_hash", "token_hash = ?", hash)
}

func (r *GormRefreshTokenRepository) FindByID(ctx context.Context, id string) (*domain.RefreshToken, error) {
	return r.findOne(ctx, "find_by_id", "id = ?", id)
}

func (r *GormRefreshTokenRepository) RevokeByID(ctx context.Context, id, reason string) (int64, error) {
	return r.revoke(ctx, "revoke_by_id", r.db.WithContext(ctx).Where("id = ?", id), reason)
}

func (r *GormRefreshTokenRepository) RevokeByFamily(ctx context.Context, familyID, reason string) (int64, error) {
	return r.revoke(ctx, "revoke_by_family", r.db.WithContext(ctx).Where("token_family_id = ?", familyID), reason)
}

func (r *GormRefreshTokenRepository) RevokeByDevice(ctx context.Context, deviceID, reason string) (int64, error) {
	return r.revoke(ctx, "revoke_by_device", r.db.WithContext(ctx).Where("device_id = ?", deviceID), reason)
}

func (r *GormRefreshTokenRepository) RevokeByUser(ctx context.Context, userID uint, reason string) (int64, error) {
	return r.revoke(ctx, "revoke_by_user", r.db.WithContext(ctx).Where("user_id = ?", userID), reason)
}

func (r *GormRefreshTokenRepository) CountActive(ctx context.Context, userID uint, deviceID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND device_id = ? AND status = ?", userID, deviceID, domain.TokenStatusActive).
		Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "count_active", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "count_active", "success")
	return n, nil
}

func (r *GormRefreshTokenRepository) findOne(ctx context.Context, op, query string, arg any) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where(query, arg).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", op, "not_found")
			return nil, ErrRefreshTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", op, "success")
	return &t, nil
}

func (r *GormRefreshTokenRepository) revoke(ctx context.Context, op string, scope *gorm.DB, reason string) (int64, error) {
	res := revokeActive(scope, reason)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", op, "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", op, "success")
	return res.RowsAffected, nil
}

// revokeActive only touches active rows so rotated tokens keep their terminal
// state and their used-at evidence.
func revokeActive(scope *gorm.DB, reason string) *gorm.DB {
	return scope.Model(&domain.RefreshToken{}).
		Where("status = ?", domain.TokenStatusActive).
		Updates(map[string]any{
			"status":         domain.TokenStatusRevoked,
			"revoked_at":     time.Now().UTC(),
			"revoked_reason": reason,
		})
}

// isSerializationFailure reports a postgres 40001 abort, which a concurrent
// rotation of the same row surfaces instead of a zero-row update.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
