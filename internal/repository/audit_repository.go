package repository

import (
	"context"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"

	"gorm.io/gorm"
)

type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditLogEntry) error
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &GormAuditRepository{db: db} }

func (r *GormAuditRepository) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_log", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "audit_log", "append", "success")
	return nil
}
