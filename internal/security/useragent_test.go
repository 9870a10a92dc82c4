package security

import (
	"strings"
	"testing"
)

const (
	chromeWindows  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	firefoxWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"
	safariIPhone   = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
)

func TestParseUserAgentDistinguishesBrowsersAndDevices(t *testing.T) {
	chrome := ParseUserAgent(chromeWindows)
	firefox := ParseUserAgent(firefoxWindows)
	iphone := ParseUserAgent(safariIPhone)

	if chrome.BrowserName == "" || chrome.OSName == "" {
		t.Fatalf("expected chrome fields populated: %+v", chrome)
	}
	if chrome.BrowserName == firefox.BrowserName {
		t.Fatalf("expected different browsers, got %q", chrome.BrowserName)
	}
	if chrome.OSName != firefox.OSName {
		t.Fatalf("expected same OS, got %q and %q", chrome.OSName, firefox.OSName)
	}
	if chrome.DeviceType != DeviceTypeDesktop {
		t.Fatalf("expected desktop, got %q", chrome.DeviceType)
	}
	if iphone.DeviceType != DeviceTypeMobile {
		t.Fatalf("expected mobile, got %q", iphone.DeviceType)
	}
}

func TestParseUserAgentBlank(t *testing.T) {
	if got := ParseUserAgent("   "); got != (ParsedUserAgent{}) {
		t.Fatalf("expected empty fingerprint, got %+v", got)
	}
}

func TestSerializedUserAgentRoundTrip(t *testing.T) {
	parsed := ParseUserAgent(chromeWindows)
	back, err := DeserializeUserAgent(parsed.Serialize())
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if back != parsed {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, parsed)
	}
}

func TestDeserializeUserAgentRejectsGarbage(t *testing.T) {
	for _, v := range []string{"", "null", chromeWindows, "{not json", "[]"} {
		if _, err := DeserializeUserAgent(v); err == nil {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}

func FuzzDeserializeUserAgent(f *testing.F) {
	f.Add(ParseUserAgent(chromeWindows).Serialize())
	f.Add("{}")
	f.Add("null")
	f.Add(strings.Repeat("{", 256))

	f.Fuzz(func(t *testing.T, raw string) {
		p, err := DeserializeUserAgent(raw)
		if err != nil {
			return
		}
		again, err := DeserializeUserAgent(p.Serialize())
		if err != nil {
			t.Fatalf("re-serialized value must decode: %v", err)
		}
		if again != p {
			t.Fatalf("serialization must be stable: %+v vs %+v", again, p)
		}
	})
}
