package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

// FailedLoginResult reports the counter after a failed password check.
type FailedLoginResult struct {
	Attempts int
	Locked   bool
}

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	FindByOrganisationAndUsername(ctx context.Context, organisationID uint, username string) (*domain.User, error)
	// FindByIDIncludingDeleted also returns soft-deleted users so callers can
	// tell a deleted account from a missing one.
	FindByIDIncludingDeleted(ctx context.Context, id uint) (*domain.User, error)
	RecordFailedLogin(ctx context.Context, id uint, lockThreshold int) (FailedLoginResult, error)
	ResetFailedLogins(ctx context.Context, id uint) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) Create(ctx context.Context, u *domain.User) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

func (r *GormUserRepository) FindByOrganisationAndUsername(ctx context.Context, organisationID uint, username string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).
		Where("organisation_id = ? AND LOWER(username) = ?", organisationID, strings.ToLower(strings.TrimSpace(username))).
		First(&u).Error
	return r.result(ctx, "find_by_org_username", &u, err)
}

func (r *GormUserRepository) FindByIDIncludingDeleted(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&u).Error
	return r.result(ctx, "find_by_id_unscoped", &u, err)
}

func (r *GormUserRepository) RecordFailedLogin(ctx context.Context, id uint, lockThreshold int) (FailedLoginResult, error) {
	var out FailedLoginResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).
			Where("id = ?", id).
			Update("failed_login_attempts", gorm.Expr("failed_login_attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		var u domain.User
		if err := tx.Select("id", "failed_login_attempts", "is_active").Where("id = ?", id).First(&u).Error; err != nil {
			return err
		}
		out.Attempts = u.FailedLoginAttempts
		if lockThreshold > 0 && u.FailedLoginAttempts >= lockThreshold {
			if err := tx.Model(&domain.User{}).Where("id = ?", id).Update("is_active", false).Error; err != nil {
				return err
			}
			out.Locked = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "error")
		}
		return FailedLoginResult{}, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "success")
	return out, nil
}

func (r *GormUserRepository) ResetFailedLogins(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ? AND failed_login_attempts <> 0", id).
		Update("failed_login_attempts", 0).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "reset_failed_logins", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "reset_failed_logins", "success")
	return nil
}

func (r *GormUserRepository) result(ctx context.Context, op string, u *domain.User, err error) (*domain.User, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", op, "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", op, "success")
	return u, nil
}
