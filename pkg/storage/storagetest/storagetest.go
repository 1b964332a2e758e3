// Package storagetest builds certificate, key and profile fixtures laid out
// the way storage.Repo expects them.
package storagetest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"
	gop12 "software.sslmate.com/src/go-pkcs12"

	"github.com/aluedeke/go-match/pkg/portal"
	"github.com/aluedeke/go-match/pkg/storage"
)

var (
	sharedKeyOnce sync.Once
	sharedKey     *rsa.PrivateKey
	sharedKeyErr  error
	serial        int64
	serialMu      sync.Mutex
)

// Cert is a generated certificate with its key
type Cert struct {
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
}

// SharedKey returns one RSA key reused across fixtures to keep tests fast.
func SharedKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	sharedKeyOnce.Do(func() {
		sharedKey, sharedKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if sharedKeyErr != nil {
		t.Fatalf("failed to generate key: %v", sharedKeyErr)
	}
	return sharedKey
}

// NewKey generates a fresh RSA key
func NewKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// NewCertificate creates a self-signed code signing certificate for teamID.
func NewCertificate(t testing.TB, key *rsa.PrivateKey, commonName, teamID string, notAfter time.Time) *Cert {
	t.Helper()
	serialMu.Lock()
	serial++
	sn := big.NewInt(serial)
	serialMu.Unlock()

	template := &x509.Certificate{
		SerialNumber: sn,
		Subject: pkix.Name{
			CommonName:         commonName,
			OrganizationalUnit: []string{teamID},
			Organization:       []string{"Example Inc"},
		},
		NotBefore:   notAfter.AddDate(-1, 0, 0),
		NotAfter:    notAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return &Cert{Certificate: cert, Key: key}
}

// WriteCertificate stores c as certs/<type>/<id>.cer, plus a .p12 when
// p12Password is not empty.
func WriteCertificate(t testing.TB, root string, certType storage.CertificateType, id string, c *Cert, p12Password string) {
	t.Helper()
	dir := filepath.Join(root, "certs", string(certType))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".cer"), c.Certificate.Raw, 0644); err != nil {
		t.Fatalf("failed to write certificate: %v", err)
	}
	if p12Password == "" {
		return
	}
	pfx, err := gop12.Modern.Encode(c.Key, c.Certificate, nil, p12Password)
	if err != nil {
		t.Fatalf("failed to encode P12: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".p12"), pfx, 0600); err != nil {
		t.Fatalf("failed to write P12: %v", err)
	}
}

// Profile describes the fields of a generated provisioning profile
type Profile struct {
	Name         string
	UUID         string
	TeamID       string
	BundleID     string
	Expires      time.Time
	Certificates []*Cert
}

type profilePayload struct {
	Name                        string                 `plist:"Name"`
	TeamName                    string                 `plist:"TeamName"`
	TeamIdentifier              []string               `plist:"TeamIdentifier"`
	AppIDName                   string                 `plist:"AppIDName"`
	ApplicationIdentifierPrefix []string               `plist:"ApplicationIdentifierPrefix"`
	Entitlements                map[string]interface{} `plist:"Entitlements"`
	DeveloperCertificates       [][]byte               `plist:"DeveloperCertificates"`
	CreationDate                time.Time              `plist:"CreationDate"`
	ExpirationDate              time.Time              `plist:"ExpirationDate"`
	UUID                        string                 `plist:"UUID"`
	Platform                    []string               `plist:"Platform"`
}

// ProfileData returns a PKCS#7 signed profile signed by signer.
func ProfileData(t testing.TB, p Profile, signer *Cert) []byte {
	t.Helper()
	certs := [][]byte{}
	for _, c := range p.Certificates {
		certs = append(certs, c.Certificate.Raw)
	}
	payload := profilePayload{
		Name:                        p.Name,
		TeamName:                    "Example Inc",
		TeamIdentifier:              []string{p.TeamID},
		AppIDName:                   p.BundleID,
		ApplicationIdentifierPrefix: []string{p.TeamID},
		Entitlements: map[string]interface{}{
			"application-identifier": p.TeamID + "." + p.BundleID,
		},
		DeveloperCertificates: certs,
		CreationDate:          p.Expires.AddDate(-1, 0, 0),
		ExpirationDate:        p.Expires,
		UUID:                  p.UUID,
		Platform:              []string{"iOS"},
	}
	content, err := plist.Marshal(payload, plist.XMLFormat)
	if err != nil {
		t.Fatalf("failed to marshal profile: %v", err)
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		t.Fatalf("failed to create signed data: %v", err)
	}
	if err := sd.AddSigner(signer.Certificate, signer.Key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("failed to add signer: %v", err)
	}
	der, err := sd.Finish()
	if err != nil {
		t.Fatalf("failed to finish signed data: %v", err)
	}
	return der
}

// WriteProfile stores a generated profile where Repo.Profile looks for it and
// returns the path.
func WriteProfile(t testing.TB, root string, profileType storage.ProfileType, platform portal.Platform, p Profile, signer *Cert) string {
	t.Helper()
	dir := filepath.Join(root, "profiles", string(profileType))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	path := filepath.Join(dir, storage.ProfileFileName(profileType, p.BundleID, platform))
	if err := os.WriteFile(path, ProfileData(t, p, signer), 0644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}
	return path
}
