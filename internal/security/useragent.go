package security

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mssola/useragent"
)

const (
	DeviceTypeDesktop = "desktop"
	DeviceTypeMobile  = "mobile"
	DeviceTypeBot     = "bot"
)

var ErrInvalidUserAgent = errors.New("invalid serialized user agent")

// ParsedUserAgent is the device signal compared by fingerprint validation.
// Empty fields mean the value could not be determined.
type ParsedUserAgent struct {
	OSName         string `json:"osName,omitempty"`
	OSVersion      string `json:"osVersion,omitempty"`
	BrowserName    string `json:"browserName,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	DeviceType     string `json:"deviceType,omitempty"`
}

func ParseUserAgent(raw string) ParsedUserAgent {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ParsedUserAgent{}
	}
	ua := useragent.New(raw)
	os := ua.OSInfo()
	browser, version := ua.Browser()
	deviceType := DeviceTypeDesktop
	switch {
	case ua.Bot():
		deviceType = DeviceTypeBot
	case ua.Mobile():
		deviceType = DeviceTypeMobile
	}
	return ParsedUserAgent{
		OSName:         os.Name,
		OSVersion:      os.Version,
		BrowserName:    browser,
		BrowserVersion: version,
		DeviceType:     deviceType,
	}
}

func (p ParsedUserAgent) Serialize() string {
	out, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(out)
}

// DeserializeUserAgent decodes a stored baseline. Blank or non-object input is
// rejected rather than read as an empty fingerprint.
func DeserializeUserAgent(serialized string) (ParsedUserAgent, error) {
	v := strings.TrimSpace(serialized)
	if !strings.HasPrefix(v, "{") {
		return ParsedUserAgent{}, ErrInvalidUserAgent
	}
	var p ParsedUserAgent
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return ParsedUserAgent{}, ErrInvalidUserAgent
	}
	return p, nil
}
