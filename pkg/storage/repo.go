package storage

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aluedeke/go-match/pkg/portal"
)

// ErrNotFound is returned when a certificate, key or profile is not in storage.
var ErrNotFound = errors.New("not found in storage")

// ProfileType is the kind of provisioning profile being synced.
type ProfileType string

const (
	ProfileTypeDevelopment ProfileType = "development"
	ProfileTypeAppStore    ProfileType = "appstore"
	ProfileTypeAdHoc       ProfileType = "adhoc"
	ProfileTypeEnterprise  ProfileType = "enterprise"
	ProfileTypeDeveloperID ProfileType = "developer_id"
)

// CertificateType is the directory under certs/ holding a kind of certificate.
type CertificateType string

const (
	CertificateTypeDevelopment            CertificateType = "development"
	CertificateTypeDistribution           CertificateType = "distribution"
	CertificateTypeEnterprise             CertificateType = "enterprise"
	CertificateTypeDeveloperIDApplication CertificateType = "developer_id_application"
)

// ParseProfileType validates a profile type name
func ParseProfileType(s string) (ProfileType, error) {
	switch t := ProfileType(strings.ToLower(strings.TrimSpace(s))); t {
	case ProfileTypeDevelopment, ProfileTypeAppStore, ProfileTypeAdHoc, ProfileTypeEnterprise, ProfileTypeDeveloperID:
		return t, nil
	}
	return "", fmt.Errorf("unknown profile type %q (expected development, appstore, adhoc, enterprise or developer_id)", s)
}

// CertificateType returns the certificate kind that signs profiles of type t.
func (t ProfileType) CertificateType() CertificateType {
	switch t {
	case ProfileTypeAppStore, ProfileTypeAdHoc:
		return CertificateTypeDistribution
	case ProfileTypeEnterprise:
		return CertificateTypeEnterprise
	case ProfileTypeDeveloperID:
		return CertificateTypeDeveloperIDApplication
	default:
		return CertificateTypeDevelopment
	}
}

func (t ProfileType) filePrefix() string {
	switch t {
	case ProfileTypeAppStore:
		return "AppStore"
	case ProfileTypeAdHoc:
		return "AdHoc"
	case ProfileTypeEnterprise:
		return "InHouse"
	case ProfileTypeDeveloperID:
		return "Direct"
	default:
		return "Development"
	}
}

// ProfileFileName returns the storage file name of the profile for bundleID.
func ProfileFileName(t ProfileType, bundleID string, platform portal.Platform) string {
	name := t.filePrefix() + "_" + bundleID
	switch platform {
	case portal.PlatformMacOS:
		return name + ".provisionprofile"
	case portal.PlatformCatalyst:
		return name + "_catalyst.provisionprofile"
	case portal.PlatformTVOS:
		return name + "_tvos.mobileprovision"
	default:
		return name + ".mobileprovision"
	}
}

// Certificate is a certificate file in storage. ID is the portal certificate ID.
type Certificate struct {
	ID          string
	Type        CertificateType
	Path        string
	Certificate *x509.Certificate
	// HasKey is set when a matching .p12 sits next to the .cer.
	HasKey bool
}

// Repo reads a decrypted storage directory laid out as
//
//	certs/<certificate type>/<ID>.cer
//	certs/<certificate type>/<ID>.p12
//	profiles/<profile type>/<Prefix>_<bundle id>.mobileprovision
type Repo struct {
	root string
}

// Open checks that dir exists
func Open(dir string) (*Repo, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage path %s is not a directory", dir)
	}
	return &Repo{root: dir}, nil
}

// Root returns the storage directory
func (r *Repo) Root() string {
	return r.root
}

// Certificates lists the certificates of type t, sorted by ID.
func (r *Repo) Certificates(t CertificateType) ([]Certificate, error) {
	dir := filepath.Join(r.root, "certs", string(t))
	paths, err := filepath.Glob(filepath.Join(dir, "*.cer"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	certs := make([]Certificate, 0, len(paths))
	for _, path := range paths {
		id := strings.TrimSuffix(filepath.Base(path), ".cer")
		cert, err := loadCertificate(path)
		if err != nil {
			return nil, fmt.Errorf("certificate %s: %w", id, err)
		}
		_, statErr := os.Stat(filepath.Join(dir, id+".p12"))
		certs = append(certs, Certificate{
			ID:          id,
			Type:        t,
			Path:        path,
			Certificate: cert,
			HasKey:      statErr == nil,
		})
	}
	return certs, nil
}

// CertificateIDs returns the IDs of the certificates of type t
func (r *Repo) CertificateIDs(t CertificateType) ([]string, error) {
	certs, err := r.Certificates(t)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(certs))
	for _, c := range certs {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Identity decodes the .p12 stored for certificate id
func (r *Repo) Identity(t CertificateType, id, password string) (*Identity, error) {
	path := filepath.Join(r.root, "certs", string(t), id+".p12")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("private key for certificate %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return DecodeIdentity(data, password)
}

// ProfilePath returns where the profile for bundleID is stored
func (r *Repo) ProfilePath(t ProfileType, bundleID string, platform portal.Platform) string {
	return filepath.Join(r.root, "profiles", string(t), ProfileFileName(t, bundleID, platform))
}

// Profile loads the stored profile for bundleID
func (r *Repo) Profile(t ProfileType, bundleID string, platform portal.Platform) (*ProvisioningProfile, error) {
	path := r.ProfilePath(t, bundleID, platform)
	profile, err := LoadProvisioningProfile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("profile for %s: %w", bundleID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}
