package match

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/aluedeke/go-match/pkg/portal"
)

// fakePortal records calls and serves canned data.
type fakePortal struct {
	bundleIDs    []portal.BundleID
	certificates map[portal.Platform][]portal.Certificate
	profiles     []portal.Profile

	loginErr error
	listErr  error

	logins            int
	certPlatforms     []portal.Platform
	profileListings   int
	deleted           []string
	bundleIDListings  int
	findBundleIDCalls []string
}

func (f *fakePortal) Login(ctx context.Context, user, teamID, teamName string) (*portal.Session, error) {
	f.logins++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if teamID == "" {
		teamID = "TEAM123456"
	}
	return portal.NewSession(user, teamID, teamName, nil), nil
}

func (f *fakePortal) FindBundleID(ctx context.Context, sess *portal.Session, identifier string) (*portal.BundleID, error) {
	f.findBundleIDCalls = append(f.findBundleIDCalls, identifier)
	if f.listErr != nil {
		return nil, f.listErr
	}
	for i := range f.bundleIDs {
		if f.bundleIDs[i].Identifier == identifier {
			return &f.bundleIDs[i], nil
		}
	}
	return nil, nil
}

func (f *fakePortal) ListBundleIDs(ctx context.Context, sess *portal.Session) ([]portal.BundleID, error) {
	f.bundleIDListings++
	return f.bundleIDs, f.listErr
}

func (f *fakePortal) ListCertificates(ctx context.Context, sess *portal.Session, platform portal.Platform) ([]portal.Certificate, error) {
	f.certPlatforms = append(f.certPlatforms, platform)
	return f.certificates[platform], f.listErr
}

func (f *fakePortal) ListProfiles(ctx context.Context, sess *portal.Session) ([]portal.Profile, error) {
	f.profileListings++
	return f.profiles, f.listErr
}

func (f *fakePortal) DeleteProfile(ctx context.Context, sess *portal.Session, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type line struct {
	level string
	text  string
}

// recorder keeps every reported line
type recorder struct {
	lines []line
}

func (r *recorder) add(level, format string, args ...any) {
	r.lines = append(r.lines, line{level, fmt.Sprintf(format, args...)})
}

func (r *recorder) Message(format string, args ...any)   { r.add("message", format, args...) }
func (r *recorder) Important(format string, args ...any) { r.add("important", format, args...) }
func (r *recorder) Error(format string, args ...any)     { r.add("error", format, args...) }
func (r *recorder) Success(format string, args ...any)   { r.add("success", format, args...) }
func (r *recorder) Command(command string)               { r.add("command", "%s", command) }

// contains reports whether a line of level contains substr
func (r *recorder) contains(level, substr string) bool {
	for _, l := range r.lines {
		if l.level == level && strings.Contains(l.text, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) count(level string) int {
	n := 0
	for _, l := range r.lines {
		if l.level == level {
			n++
		}
	}
	return n
}

func (r *recorder) dump() string {
	var b strings.Builder
	for _, l := range r.lines {
		fmt.Fprintf(&b, "[%s] %s\n", l.level, l.text)
	}
	return b.String()
}

type staticStore map[string]string

func (s staticStore) Secret(user string) (string, bool) {
	v, ok := s[user]
	return v, ok
}

func newVerifier(t *testing.T, fp *fakePortal, rec *recorder) *Verifier {
	t.Helper()
	v, err := New(context.Background(), Options{
		Portal:      fp,
		Credentials: staticStore{"dev@example.com": "secret"},
		Reporter:    rec,
		User:        "dev@example.com",
		TeamID:      "TEAM123456",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}
