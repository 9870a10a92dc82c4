package service

import (
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/security"
)

const (
	ReasonDeviceIDMismatch  = "Device ID mismatch"
	ReasonInvalidStoredUA   = "Invalid stored user agent"
	ReasonOSNameChanged     = "OS name changed"
	ReasonDeviceTypeChanged = "Device type changed"
	ReasonBrowserChanged    = "Browser name changed"
	ReasonOSVersionUpdated  = "OS version updated"
	ReasonBrowserUpdated    = "Browser version updated"
	ReasonIPChanged         = "IP address changed"
)

type DeviceSignal struct {
	IPAddress string
	UserAgent security.ParsedUserAgent
	DeviceID  string
}

// DeviceBaseline is the trusted signal as persisted: the user agent is kept
// in serialized form.
type DeviceBaseline struct {
	IPAddress           string
	SerializedUserAgent string
	DeviceID            string
}

type FingerprintResult struct {
	Risk    domain.RiskLevel
	Reasons []string
}

// ValidateFingerprint compares a live request against the stored baseline.
// A device id mismatch or an unreadable baseline returns SEVERE immediately.
// An IP change is reported but never raises the risk.
func ValidateFingerprint(current DeviceSignal, expected DeviceBaseline) FingerprintResult {
	if current.DeviceID != expected.DeviceID {
		return FingerprintResult{Risk: domain.RiskSevere, Reasons: []string{ReasonDeviceIDMismatch}}
	}
	stored, err := security.DeserializeUserAgent(expected.SerializedUserAgent)
	if err != nil {
		return FingerprintResult{Risk: domain.RiskSevere, Reasons: []string{ReasonInvalidStoredUA}}
	}

	res := FingerprintResult{Risk: domain.RiskLow}
	raise := func(level domain.RiskLevel, reason string) {
		if level > res.Risk {
			res.Risk = level
		}
		res.Reasons = append(res.Reasons, reason)
	}
	ua := current.UserAgent
	if ua.OSName != stored.OSName {
		raise(domain.RiskSevere, ReasonOSNameChanged)
	}
	if ua.DeviceType != stored.DeviceType {
		raise(domain.RiskSevere, ReasonDeviceTypeChanged)
	}
	if ua.BrowserName != stored.BrowserName {
		raise(domain.RiskSevere, ReasonBrowserChanged)
	}
	if res.Risk < domain.RiskSevere {
		switch {
		case ua.OSVersion != stored.OSVersion:
			raise(domain.RiskHigh, ReasonOSVersionUpdated)
		case ua.BrowserVersion != stored.BrowserVersion:
			raise(domain.RiskMedium, ReasonBrowserUpdated)
		}
	}
	if current.IPAddress != expected.IPAddress {
		res.Reasons = append(res.Reasons, ReasonIPChanged)
	}
	return res
}
