package storage

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	gop12 "software.sslmate.com/src/go-pkcs12"
)

// Identity is a certificate together with its private key, as stored in a .p12.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.PrivateKey
	CertChain   []*x509.Certificate
	TeamID      string
}

// DecodeIdentity decodes a PKCS#12 bundle and checks the key belongs to the certificate.
func DecodeIdentity(p12Data []byte, password string) (*Identity, error) {
	privateKey, cert, caCerts, err := gop12.DecodeChain(p12Data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode P12: %w", err)
	}
	if !keyMatchesCert(privateKey, cert) {
		return nil, fmt.Errorf("private key in P12 does not match certificate %q", cert.Subject.CommonName)
	}

	chain := []*x509.Certificate{cert}
	chain = append(chain, caCerts...)

	return &Identity{
		Certificate: cert,
		PrivateKey:  privateKey,
		CertChain:   chain,
		TeamID:      TeamIDFromCertificate(cert),
	}, nil
}

func keyMatchesCert(privateKey crypto.PrivateKey, cert *x509.Certificate) bool {
	switch priv := privateKey.(type) {
	case *rsa.PrivateKey:
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return priv.PublicKey.Equal(pub)
		}
	case *ecdsa.PrivateKey:
		if pub, ok := cert.PublicKey.(*ecdsa.PublicKey); ok {
			return priv.PublicKey.Equal(pub)
		}
	}
	return false
}

// TeamIDFromCertificate returns the 10 character team ID Apple puts in the
// subject OU of signing certificates.
func TeamIDFromCertificate(cert *x509.Certificate) string {
	for _, ou := range cert.Subject.OrganizationalUnit {
		if len(ou) == 10 {
			return ou
		}
	}
	return ""
}
