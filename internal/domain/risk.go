package domain

import "strings"

type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskSevere
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskSevere:
		return "SEVERE"
	default:
		return "UNKNOWN"
	}
}

// ParseRiskLevel maps a stored tier back to its level. Unknown values are
// treated as SEVERE.
func ParseRiskLevel(v string) RiskLevel {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "LOW":
		return RiskLow
	case "MEDIUM":
		return RiskMedium
	case "HIGH":
		return RiskHigh
	default:
		return RiskSevere
	}
}

func AllModels() []any {
	return []any{
		&Organisation{},
		&User{},
		&Device{},
		&Session{},
		&RefreshToken{},
		&AuditLogEntry{},
	}
}
