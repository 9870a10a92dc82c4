package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"

	"gorm.io/gorm"
)

var ErrDeviceNotFound = errors.New("device not found")

// DeviceSignals is the latest observed client signal for a device.
type DeviceSignals struct {
	IPAddress    string
	UserAgent    string
	MFAValidated *time.Time
	MFAMethod    domain.MFAMethod
}

type DeviceRepository interface {
	Create(ctx context.Context, d *domain.Device) error
	FindByIDForUser(ctx context.Context, id string, userID uint) (*domain.Device, error)
	UpdateSignals(ctx context.Context, id string, signals DeviceSignals) error
}

type GormDeviceRepository struct{ db *gorm.DB }

func NewDeviceRepository(db *gorm.DB) DeviceRepository { return &GormDeviceRepository{db: db} }

func (r *GormDeviceRepository) Create(ctx context.Context, d *domain.Device) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "device", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "device", "create", "success")
	return nil
}

func (r *GormDeviceRepository) FindByIDForUser(ctx context.Context, id string, userID uint) (*domain.Device, error) {
	var d domain.Device
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "device", "find_by_id_for_user", "not_found")
			return nil, ErrDeviceNotFound
		}
		observability.RecordRepositoryOperation(ctx, "device", "find_by_id_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "device", "find_by_id_for_user", "success")
	return &d, nil
}

// UpdateSignals records the latest ip and user agent. MFA fields are only
// written when a second factor was validated.
func (r *GormDeviceRepository) UpdateSignals(ctx context.Context, id string, signals DeviceSignals) error {
	updates := map[string]any{
		"last_ip_address": signals.IPAddress,
		"last_user_agent": signals.UserAgent,
	}
	if signals.MFAValidated != nil {
		updates["last_mfa_at"] = signals.MFAValidated.UTC()
		updates["last_mfa_method"] = signals.MFAMethod
	}
	res := r.db.WithContext(ctx).Model(&domain.Device{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device", "update_signals", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "device", "update_signals", "not_found")
		return ErrDeviceNotFound
	}
	observability.RecordRepositoryOperation(ctx, "device", "update_signals", "success")
	return nil
}
