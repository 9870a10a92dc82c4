package service

import (
	"reflect"
	"testing"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/security"
)

var baselineUA = security.ParsedUserAgent{
	OSName:         "Mac OS X",
	OSVersion:      "10.15.7",
	BrowserName:    "Chrome",
	BrowserVersion: "120.0.0.0",
	DeviceType:     security.DeviceTypeDesktop,
}

func baselineFor(ip string) DeviceBaseline {
	return DeviceBaseline{IPAddress: ip, SerializedUserAgent: baselineUA.Serialize(), DeviceID: "dev-1"}
}

func TestValidateFingerprintTiers(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DeviceSignal)
		stored  func(*DeviceBaseline)
		risk    domain.RiskLevel
		reasons []string
	}{
		{name: "identical", risk: domain.RiskLow},
		{
			name:    "ip only is informational",
			mutate:  func(s *DeviceSignal) { s.IPAddress = "10.0.0.9" },
			risk:    domain.RiskLow,
			reasons: []string{ReasonIPChanged},
		},
		{
			name:    "browser version",
			mutate:  func(s *DeviceSignal) { s.UserAgent.BrowserVersion = "121.0.0.0" },
			risk:    domain.RiskMedium,
			reasons: []string{ReasonBrowserUpdated},
		},
		{
			name: "os version wins over browser version",
			mutate: func(s *DeviceSignal) {
				s.UserAgent.OSVersion = "14.1"
				s.UserAgent.BrowserVersion = "121.0.0.0"
			},
			risk:    domain.RiskHigh,
			reasons: []string{ReasonOSVersionUpdated},
		},
		{
			name: "device type and browser name accumulate",
			mutate: func(s *DeviceSignal) {
				s.UserAgent.DeviceType = security.DeviceTypeMobile
				s.UserAgent.BrowserName = "Firefox"
				s.IPAddress = "10.0.0.9"
			},
			risk:    domain.RiskSevere,
			reasons: []string{ReasonDeviceTypeChanged, ReasonBrowserChanged, ReasonIPChanged},
		},
		{
			name:    "undefined to defined counts as change",
			mutate:  func(s *DeviceSignal) { s.UserAgent.OSName = "" },
			risk:    domain.RiskSevere,
			reasons: []string{ReasonOSNameChanged},
		},
		{
			name: "device id mismatch short-circuits",
			mutate: func(s *DeviceSignal) {
				s.DeviceID = "dev-2"
				s.IPAddress = "10.0.0.9"
			},
			risk:    domain.RiskSevere,
			reasons: []string{ReasonDeviceIDMismatch},
		},
		{
			name:    "unparseable stored user agent short-circuits",
			stored:  func(b *DeviceBaseline) { b.SerializedUserAgent = "Mozilla/5.0" },
			mutate:  func(s *DeviceSignal) { s.IPAddress = "10.0.0.9" },
			risk:    domain.RiskSevere,
			reasons: []string{ReasonInvalidStoredUA},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			current := DeviceSignal{IPAddress: "10.0.0.1", UserAgent: baselineUA, DeviceID: "dev-1"}
			expected := baselineFor("10.0.0.1")
			if tc.mutate != nil {
				tc.mutate(&current)
			}
			if tc.stored != nil {
				tc.stored(&expected)
			}
			got := ValidateFingerprint(current, expected)
			if got.Risk != tc.risk {
				t.Fatalf("expected risk %s, got %s (%v)", tc.risk, got.Risk, got.Reasons)
			}
			if !reflect.DeepEqual(got.Reasons, tc.reasons) {
				t.Fatalf("expected reasons %v, got %v", tc.reasons, got.Reasons)
			}
		})
	}
}

func TestValidateFingerprintSevereMismatchIgnoresMatchingFields(t *testing.T) {
	severe := []func(*DeviceSignal, *DeviceBaseline){
		func(s *DeviceSignal, _ *DeviceBaseline) { s.DeviceID = "other" },
		func(_ *DeviceSignal, b *DeviceBaseline) { b.SerializedUserAgent = "" },
		func(s *DeviceSignal, _ *DeviceBaseline) { s.UserAgent.OSName = "Windows" },
		func(s *DeviceSignal, _ *DeviceBaseline) { s.UserAgent.DeviceType = security.DeviceTypeBot },
		func(s *DeviceSignal, _ *DeviceBaseline) { s.UserAgent.BrowserName = "Safari" },
	}
	for i, apply := range severe {
		current := DeviceSignal{IPAddress: "10.0.0.1", UserAgent: baselineUA, DeviceID: "dev-1"}
		expected := baselineFor("10.0.0.1")
		apply(&current, &expected)
		if got := ValidateFingerprint(current, expected); got.Risk != domain.RiskSevere {
			t.Fatalf("case %d: expected SEVERE, got %s", i, got.Risk)
		}
	}
}
