package portal

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	tokenAudience = "appstoreconnect-v1"
	// App Store Connect rejects tokens that live longer than 20 minutes
	tokenLifetime = 20 * time.Minute
	tokenLeeway   = time.Minute
)

// APIKey is an App Store Connect API key
type APIKey struct {
	KeyID      string
	IssuerID   string
	PrivateKey *ecdsa.PrivateKey
}

// ParseAPIKey builds an APIKey from the PEM contents of a .p8 file
func ParseAPIKey(keyID, issuerID string, pemData []byte) (APIKey, error) {
	if keyID == "" {
		return APIKey{}, fmt.Errorf("API key ID is required")
	}
	if issuerID == "" {
		return APIKey{}, fmt.Errorf("API issuer ID is required")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pemData)
	if err != nil {
		return APIKey{}, fmt.Errorf("failed to parse API private key: %w", err)
	}
	return APIKey{KeyID: keyID, IssuerID: issuerID, PrivateKey: key}, nil
}

// LoadAPIKey reads and parses a .p8 key file
func LoadAPIKey(keyID, issuerID, path string) (APIKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return APIKey{}, fmt.Errorf("failed to read API key file: %w", err)
	}
	return ParseAPIKey(keyID, issuerID, data)
}

// TokenSource produces bearer tokens for portal requests.
type TokenSource interface {
	Token() (string, error)
}

type jwtSource struct {
	key APIKey
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newJWTSource(key APIKey, now func() time.Time) *jwtSource {
	return &jwtSource{key: key, now: now}
}

// Token returns a cached ES256 token, minting a new one shortly before expiry.
func (s *jwtSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(tokenLeeway).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(tokenLifetime)
	claims := jwt.RegisteredClaims{
		Issuer:    s.key.IssuerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		Audience:  jwt.ClaimStrings{tokenAudience},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = s.key.KeyID

	signed, err := tok.SignedString(s.key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign App Store Connect token: %w", err)
	}
	s.token = signed
	s.expires = expires
	return signed, nil
}
