package security

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

var ErrInvalidDeviceCookie = errors.New("invalid device cookie")

// DeviceAccount links one organisation login to the device row created for it.
type DeviceAccount struct {
	OrganisationID uint   `json:"organisationId"`
	UserID         uint   `json:"userId"`
	DeviceID       string `json:"deviceId"`
}

// DeviceCookie lets one browser hold logins for several organisations.
type DeviceCookie struct {
	LastUsedAccount *DeviceAccount  `json:"lastUsedAccount,omitempty"`
	OtherAccounts   []DeviceAccount `json:"otherAccounts"`
}

// DeviceFor returns the device id recorded for the given account, if any.
func (c DeviceCookie) DeviceFor(organisationID, userID uint) (string, bool) {
	if c.LastUsedAccount != nil && c.LastUsedAccount.OrganisationID == organisationID && c.LastUsedAccount.UserID == userID {
		return c.LastUsedAccount.DeviceID, c.LastUsedAccount.DeviceID != ""
	}
	for _, acct := range c.OtherAccounts {
		if acct.OrganisationID == organisationID && acct.UserID == userID {
			return acct.DeviceID, acct.DeviceID != ""
		}
	}
	return "", false
}

// WithLastUsed promotes acct to the last used slot and keeps every other
// account once in OtherAccounts.
func (c DeviceCookie) WithLastUsed(acct DeviceAccount) DeviceCookie {
	out := DeviceCookie{LastUsedAccount: &acct, OtherAccounts: make([]DeviceAccount, 0, len(c.OtherAccounts)+1)}
	seen := map[[2]uint]bool{{acct.OrganisationID, acct.UserID}: true}
	candidates := c.OtherAccounts
	if c.LastUsedAccount != nil {
		candidates = append([]DeviceAccount{*c.LastUsedAccount}, c.OtherAccounts...)
	}
	for _, other := range candidates {
		k := [2]uint{other.OrganisationID, other.UserID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out.OtherAccounts = append(out.OtherAccounts, other)
	}
	return out
}

func EncodeDeviceCookie(c DeviceCookie) (string, error) {
	if c.OtherAccounts == nil {
		c.OtherAccounts = []DeviceAccount{}
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodeDeviceCookie(v string) (DeviceCookie, error) {
	if v == "" {
		return DeviceCookie{}, ErrInvalidDeviceCookie
	}
	raw, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return DeviceCookie{}, ErrInvalidDeviceCookie
	}
	var c DeviceCookie
	if err := json.Unmarshal(raw, &c); err != nil {
		return DeviceCookie{}, ErrInvalidDeviceCookie
	}
	return c, nil
}

type CookieSettings struct {
	RefreshName string
	RefreshPath string
	DeviceName  string
	DeviceTTL   time.Duration
	Domain      string
	Secure      bool
}

func SetRefreshCookie(w http.ResponseWriter, s CookieSettings, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.RefreshName,
		Value:    token,
		Path:     s.RefreshPath,
		Domain:   s.Domain,
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func ClearRefreshCookie(w http.ResponseWriter, s CookieSettings) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.RefreshName,
		Value:    "",
		Path:     s.RefreshPath,
		Domain:   s.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func SetDeviceCookie(w http.ResponseWriter, s CookieSettings, c DeviceCookie) error {
	v, err := EncodeDeviceCookie(c)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.DeviceName,
		Value:    v,
		Path:     "/",
		Domain:   s.Domain,
		Expires:  time.Now().Add(s.DeviceTTL).UTC(),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
