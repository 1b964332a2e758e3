package portal

import (
	"context"
	"fmt"
)

// Session is an authenticated handle to the portal, scoped to one team.
// It is created once by Login and only read afterwards.
type Session struct {
	User     string
	TeamID   string
	TeamName string

	tokens TokenSource
}

// NewSession creates a session. A nil token source sends unauthenticated
// requests, which is only useful against fakes.
func NewSession(user, teamID, teamName string, tokens TokenSource) *Session {
	return &Session{User: user, TeamID: teamID, TeamName: teamName, tokens: tokens}
}

func (s *Session) authorization() (string, error) {
	if s == nil {
		return "", fmt.Errorf("no portal session")
	}
	if s.tokens == nil {
		return "", nil
	}
	tok, err := s.tokens.Token()
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

// Authenticator establishes portal sessions.
type Authenticator interface {
	Login(ctx context.Context, user, teamID, teamName string) (*Session, error)
}

// Client is the set of portal operations the verifier relies on.
type Client interface {
	// FindBundleID returns nil without an error when the identifier is not registered.
	FindBundleID(ctx context.Context, sess *Session, identifier string) (*BundleID, error)
	ListBundleIDs(ctx context.Context, sess *Session) ([]BundleID, error)
	ListCertificates(ctx context.Context, sess *Session, platform Platform) ([]Certificate, error)
	// ListProfiles returns every profile of the team; the API has no UUID filter.
	ListProfiles(ctx context.Context, sess *Session) ([]Profile, error)
	DeleteProfile(ctx context.Context, sess *Session, id string) error
}
