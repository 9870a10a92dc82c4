package domain

import "time"

// Device is a recognized client instance. LastUserAgent holds the serialized
// parsed user agent used as the fingerprint baseline.
type Device struct {
	ID            string `gorm:"primaryKey;size:36"`
	UserID        uint   `gorm:"not null;index"`
	LastIPAddress string `gorm:"size:64"`
	LastUserAgent string `gorm:"type:text"`
	LastMFAAt     *time.Time
	LastMFAMethod MFAMethod `gorm:"size:16"`
	IsValid       bool      `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
