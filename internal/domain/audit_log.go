package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
	SeveritySuccess  Severity = "SUCCESS"
)

// AuditLogEntry is append-only; rows are never updated once written.
type AuditLogEntry struct {
	ID             string   `gorm:"primaryKey;size:26"`
	IPAddress      string   `gorm:"size:64"`
	UserAgent      string   `gorm:"type:text"`
	UserID         *uint    `gorm:"index"`
	DeviceID       *string  `gorm:"size:36"`
	OrganisationID *uint    `gorm:"index"`
	Action         string   `gorm:"size:64;not null;index"`
	Success        bool     `gorm:"not null"`
	Severity       Severity `gorm:"size:16;not null"`
	Detail         string   `gorm:"type:text"`
	Context        datatypes.JSON
	CreatedAt      time.Time `gorm:"index"`
}
