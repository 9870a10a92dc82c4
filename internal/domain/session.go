package domain

import "time"

// Session is a login session bound to one device. LastLoginAt tracks the most
// recent password validation and anchors every computed session expiry.
type Session struct {
	ID          string    `gorm:"primaryKey;size:36"`
	UserID      uint      `gorm:"not null;index"`
	DeviceID    string    `gorm:"size:36;not null;index"`
	IsValid     bool      `gorm:"not null"`
	LastLoginAt time.Time `gorm:"not null"`
	RiskLevel   string    `gorm:"size:16;not null"`
	UserAgent   string    `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
