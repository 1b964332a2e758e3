package portal

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Platform is the platform tag used by the local storage and the portal.
type Platform string

const (
	PlatformIOS      Platform = "ios"
	PlatformTVOS     Platform = "tvos"
	PlatformMacOS    Platform = "macos"
	PlatformCatalyst Platform = "catalyst"
)

// ParsePlatform validates a platform tag
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformIOS, PlatformTVOS, PlatformMacOS, PlatformCatalyst:
		return p, nil
	}
	return "", fmt.Errorf("unknown platform %q (expected ios, tvos, macos or catalyst)", s)
}

// CertificatePlatform returns the platform whose certificates sign builds for p.
// Catalyst apps are signed with macOS certificates, tvOS apps with iOS ones.
func (p Platform) CertificatePlatform() Platform {
	switch p {
	case PlatformMacOS, PlatformCatalyst:
		return PlatformMacOS
	default:
		return PlatformIOS
	}
}

// BundleID is an App ID registered on the portal.
type BundleID struct {
	ID         string
	Identifier string
	Name       string
	Platform   string
	SeedID     string
}

// Certificate is a signing certificate registered on the portal.
type Certificate struct {
	ID              string
	Name            string
	DisplayName     string
	CertificateType string
	SerialNumber    string
	Platform        string
	ExpirationDate  time.Time
}

// Profile states reported by the portal.
const (
	ProfileStateActive  = "ACTIVE"
	ProfileStateInvalid = "INVALID"
)

// Profile is a provisioning profile registered on the portal.
type Profile struct {
	ID             string
	UUID           string
	Name           string
	ProfileType    string
	Platform       string
	State          string
	ExpirationDate time.Time
}

// Valid reports whether the portal considers the profile usable.
func (p *Profile) Valid() bool {
	return p.State == ProfileStateActive
}

// Time parses the timestamps App Store Connect returns, which are not
// always RFC 3339 ("2024-05-01T10:00:00.000+0000").
type Time time.Time

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Time{}
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*t = Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = Time(parsed)
			return nil
		}
	}
	return fmt.Errorf("unsupported time format %q", s)
}
