package domain

import "time"

type RefreshTokenStatus string

const (
	TokenStatusActive  RefreshTokenStatus = "active"
	TokenStatusRotated RefreshTokenStatus = "rotated"
	TokenStatusRevoked RefreshTokenStatus = "revoked"
)

// RefreshToken stores only the hash of the secret. Status moves from active to
// rotated or revoked exactly once; both of those are terminal.
type RefreshToken struct {
	ID                 string             `gorm:"primaryKey;size:36"`
	TokenHash          string             `gorm:"size:128;not null;uniqueIndex"`
	UserID             uint               `gorm:"not null;index:idx_refresh_tokens_user_device"`
	DeviceID           string             `gorm:"size:36;not null;index:idx_refresh_tokens_user_device"`
	SessionID          string             `gorm:"size:36;not null;index"`
	IssuedAt           time.Time          `gorm:"not null"`
	EndOfLife          time.Time          `gorm:"not null;index"`
	Status             RefreshTokenStatus `gorm:"size:16;not null;index"`
	UsedAt             *time.Time
	UsedIPAddress      *string `gorm:"size:64"`
	UsedUserAgent      *string `gorm:"type:text"`
	TokenFamilyID      string  `gorm:"size:36;not null;index"`
	RotatedFromTokenID *string `gorm:"size:36;index"`
	RevokedAt          *time.Time
	RevokedReason      *string `gorm:"size:64"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (t *RefreshToken) IsUsed() bool {
	return t.Status == TokenStatusRotated || t.UsedAt != nil
}
