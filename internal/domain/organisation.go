package domain

import "time"

type Organisation struct {
	ID         uint   `gorm:"primaryKey"`
	Code       string `gorm:"size:64;not null;uniqueIndex"`
	Name       string `gorm:"size:255;not null"`
	IsActive   bool   `gorm:"not null"`
	RequireMFA bool   `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
