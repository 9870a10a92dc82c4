package service

import (
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
)

const (
	minSessionHours    = 8
	newDeviceMaxDays   = 3.0
	adminTierReduction = 0.7
)

var baseSessionDays = map[domain.MFAMethod]float64{
	domain.MFAMethodTOTP:  30,
	domain.MFAMethodEmail: 14,
	domain.MFAMethodNone:  7,
}

var riskMultiplier = map[domain.RiskLevel]float64{
	domain.RiskLow:    1.0,
	domain.RiskMedium: 0.7,
	domain.RiskHigh:   0.3,
	domain.RiskSevere: 0,
}

type SessionLifetimeInput struct {
	IsNewDevice            bool
	Risk                   domain.RiskLevel
	LastMFAValidation      *time.Time
	MFAMethod              domain.MFAMethod
	LastPasswordValidation time.Time
	Role                   domain.Role
}

type SessionLifetimeCalculator struct {
	ReauthThresholdDays int
	now                 func() time.Time
}

func NewSessionLifetimeCalculator(reauthThresholdDays int) SessionLifetimeCalculator {
	return SessionLifetimeCalculator{ReauthThresholdDays: reauthThresholdDays, now: time.Now}
}

// Calculate returns the session end of life, or nil when the user must
// re-enter their password.
func (c SessionLifetimeCalculator) Calculate(in SessionLifetimeInput) *time.Time {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	days := baseSessionDays[domain.MFAMethodNone]
	if in.LastMFAValidation != nil {
		if base, ok := baseSessionDays[in.MFAMethod]; ok {
			days = base
		}
	}
	if in.IsNewDevice && days > newDeviceMaxDays {
		days = newDeviceMaxDays
	}
	days *= riskMultiplier[in.Risk]
	if in.Role.IsAdminTier() {
		days *= adminTierReduction
	}
	sincePassword := now().Sub(in.LastPasswordValidation).Hours() / 24
	if sincePassword >= float64(c.ReauthThresholdDays) {
		days = 0
	}
	if days <= 0 {
		return nil
	}
	lifetime := time.Duration(days * 24 * float64(time.Hour))
	if lifetime < minSessionHours*time.Hour {
		lifetime = minSessionHours * time.Hour
	}
	expiry := in.LastPasswordValidation.Add(lifetime)
	return &expiry
}
