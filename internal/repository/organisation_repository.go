package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"

	"gorm.io/gorm"
)

var ErrOrganisationNotFound = errors.New("organisation not found")

type OrganisationRepository interface {
	Create(ctx context.Context, org *domain.Organisation) error
	FindByCode(ctx context.Context, code string) (*domain.Organisation, error)
	FindByID(ctx context.Context, id uint) (*domain.Organisation, error)
}

type GormOrganisationRepository struct{ db *gorm.DB }

func NewOrganisationRepository(db *gorm.DB) OrganisationRepository {
	return &GormOrganisationRepository{db: db}
}

func (r *GormOrganisationRepository) Create(ctx context.Context, org *domain.Organisation) error {
	if err := r.db.WithContext(ctx).Create(org).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "organisation", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "organisation", "create", "success")
	return nil
}

func (r *GormOrganisationRepository) FindByCode(ctx context.Context, code string) (*domain.Organisation, error) {
	return r.findOne(ctx, "find_by_code", "code = ?", strings.TrimSpace(code))
}

func (r *GormOrganisationRepository) FindByID(ctx context.Context, id uint) (*domain.Organisation, error) {
	return r.findOne(ctx, "find_by_id", "id = ?", id)
}

func (r *GormOrganisationRepository) findOne(ctx context.Context, op, query string, arg any) (*domain.Organisation, error) {
	var org domain.Organisation
	err := r.db.WithContext(ctx).Where(query, arg).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "organisation", op, "not_found")
			return nil, ErrOrganisationNotFound
		}
		observability.RecordRepositoryOperation(ctx, "organisation", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "organisation", op, "success")
	return &org, nil
}
