package storage

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// ProvisioningProfile is a parsed .mobileprovision / .provisionprofile file
type ProvisioningProfile struct {
	Name                        string                 `plist:"Name"`
	TeamName                    string                 `plist:"TeamName"`
	TeamIdentifier              []string               `plist:"TeamIdentifier"`
	AppIDName                   string                 `plist:"AppIDName"`
	ApplicationIdentifierPrefix []string               `plist:"ApplicationIdentifierPrefix"`
	Entitlements                map[string]interface{} `plist:"Entitlements"`
	DeveloperCertificates       [][]byte               `plist:"DeveloperCertificates"`
	ProvisionedDevices          []string               `plist:"ProvisionedDevices"`
	ProvisionsAllDevices        bool                   `plist:"ProvisionsAllDevices"`
	CreationDate                time.Time              `plist:"CreationDate"`
	ExpirationDate              time.Time              `plist:"ExpirationDate"`
	UUID                        string                 `plist:"UUID"`
	Platform                    []string               `plist:"Platform"`

	// Path is the file the profile was loaded from, if any.
	Path string `plist:"-"`
}

// ParseProvisioningProfile unwraps the CMS (PKCS#7) container and decodes
// the plist payload. The signature itself is not verified.
func ParseProvisioningProfile(data []byte) (*ProvisioningProfile, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#7 container: %w", err)
	}

	var profile ProvisioningProfile
	if _, err := plist.Unmarshal(p7.Content, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse provisioning profile plist: %w", err)
	}
	if profile.UUID == "" {
		return nil, fmt.Errorf("provisioning profile has no UUID")
	}
	return &profile, nil
}

// LoadProvisioningProfile reads and parses a profile file
func LoadProvisioningProfile(path string) (*ProvisioningProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	profile, err := ParseProvisioningProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	profile.Path = path
	return profile, nil
}

// GetTeamID returns the team identifier from the profile
func (p *ProvisioningProfile) GetTeamID() string {
	if len(p.TeamIdentifier) > 0 {
		return p.TeamIdentifier[0]
	}
	if len(p.ApplicationIdentifierPrefix) > 0 {
		return p.ApplicationIdentifierPrefix[0]
	}
	return ""
}

// GetApplicationIdentifier returns the application identifier from
// entitlements. macOS profiles use the com.apple.application-identifier key.
func (p *ProvisioningProfile) GetApplicationIdentifier() string {
	for _, key := range []string{"application-identifier", "com.apple.application-identifier"} {
		if appID, ok := p.Entitlements[key].(string); ok {
			return appID
		}
	}
	return ""
}

// IsExpired reports whether the profile expired before now
func (p *ProvisioningProfile) IsExpired(now time.Time) bool {
	return now.After(p.ExpirationDate)
}

// GetCertificates parses the developer certificates embedded in the profile
func (p *ProvisioningProfile) GetCertificates() ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(p.DeveloperCertificates))
	for i, certData := range p.DeveloperCertificates {
		cert, err := x509.ParseCertificate(certData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// MatchesCertificate reports whether cert is one of the profile's certificates
func (p *ProvisioningProfile) MatchesCertificate(cert *x509.Certificate) bool {
	for _, certData := range p.DeveloperCertificates {
		profileCert, err := x509.ParseCertificate(certData)
		if err != nil {
			continue
		}
		if cert.Equal(profileCert) {
			return true
		}
	}
	return false
}
