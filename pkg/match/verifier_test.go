package match

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aluedeke/go-match/pkg/portal"
)

func TestNew_LogsIn(t *testing.T) {
	fp := &fakePortal{}
	rec := &recorder{}
	v := newVerifier(t, fp, rec)

	if fp.logins != 1 {
		t.Errorf("expected one login, got %d", fp.logins)
	}
	if v.TeamID() != "TEAM123456" {
		t.Errorf("unexpected team %s", v.TeamID())
	}
	if rec.contains("command", "--readonly") {
		t.Error("readonly hint should not be shown when a secret is saved")
	}
	if !rec.contains("message", "Verifying that the certificate and profile are still valid") {
		t.Errorf("missing verification message:\n%s", rec.dump())
	}
}

func TestNew_ReadonlyHintWithoutSecret(t *testing.T) {
	for name, store := range map[string]staticStore{
		"nil":   nil,
		"empty": {"dev@example.com": ""},
		"other": {"someone@example.com": "secret"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			opts := Options{Portal: &fakePortal{}, Reporter: rec, User: "dev@example.com"}
			if store != nil {
				opts.Credentials = store
			}
			if _, err := New(context.Background(), opts); err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if !rec.contains("command", "go-match verify --readonly") {
				t.Errorf("expected readonly hint:\n%s", rec.dump())
			}
		})
	}
}

func TestNew_LoginError(t *testing.T) {
	loginErr := errors.New("bad credentials")
	_, err := New(context.Background(), Options{Portal: &fakePortal{loginErr: loginErr}})
	if !errors.Is(err, loginErr) {
		t.Fatalf("expected login error, got %v", err)
	}
}

func TestNew_RequiresPortal(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatal("expected error without portal")
	}
}

func TestTeamID_UsesPortalSession(t *testing.T) {
	fp := &fakePortal{}
	v, err := New(context.Background(), Options{Portal: fp, User: "dev@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	// the fake assigns a team when none is requested
	if v.TeamID() != "TEAM123456" {
		t.Errorf("unexpected team %q", v.TeamID())
	}
	if v.Session().User != "dev@example.com" {
		t.Errorf("unexpected session user %q", v.Session().User)
	}
}

func TestBundleIdentifierExists(t *testing.T) {
	fp := &fakePortal{bundleIDs: []portal.BundleID{{ID: "B1", Identifier: "com.example.app", Name: "Example"}}}
	rec := &recorder{}
	v := newVerifier(t, fp, rec)

	if err := v.BundleIdentifierExists(context.Background(), "com.example.app"); err != nil {
		t.Fatalf("expected bundle to exist: %v", err)
	}
	if rec.count("error") != 0 {
		t.Errorf("unexpected errors reported:\n%s", rec.dump())
	}
	if fp.bundleIDListings != 0 {
		t.Error("bundle IDs should only be listed when the identifier is missing")
	}
}

func TestBundleIdentifierExists_Missing(t *testing.T) {
	fp := &fakePortal{bundleIDs: []portal.BundleID{
		{ID: "B1", Identifier: "com.example.one", Name: "One"},
		{ID: "B2", Identifier: "com.example.two", Name: "Two"},
	}}
	rec := &recorder{}
	v := newVerifier(t, fp, rec)

	err := v.BundleIdentifierExists(context.Background(), "com.example.app")
	var ue *UserError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UserError, got %v", err)
	}
	want := "Couldn't find bundle identifier 'com.example.app' for the user 'dev@example.com'"
	if ue.Message != want {
		t.Errorf("message = %q, want %q", ue.Message, want)
	}
	if diff := cmp.Diff([]string{"com.example.app"}, ue.Missing); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}

	if !rec.contains("command", "fastlane produce -u dev@example.com -a com.example.app --skip_itc") {
		t.Errorf("expected produce command:\n%s", rec.dump())
	}
	if !rec.contains("message", "Available apps:\n- com.example.one (One)\n- com.example.two (Two)") {
		t.Errorf("expected available apps listing:\n%s", rec.dump())
	}
	if !rec.contains("error", "same user and team") {
		t.Errorf("expected same user hint:\n%s", rec.dump())
	}
}

func TestBundleIdentifierExists_PortalError(t *testing.T) {
	fp := &fakePortal{}
	v := newVerifier(t, fp, &recorder{})
	fp.listErr = errors.New("boom")

	err := v.BundleIdentifierExists(context.Background(), "com.example.app")
	if err == nil || IsUserError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestCertificatesExist(t *testing.T) {
	fp := &fakePortal{certificates: map[portal.Platform][]portal.Certificate{
		portal.PlatformIOS: {{ID: "C1"}, {ID: "C2"}, {ID: "C3"}},
	}}
	rec := &recorder{}
	v := newVerifier(t, fp, rec)

	if err := v.CertificatesExist(context.Background(), []string{"C1", "C3"}, portal.PlatformIOS); err != nil {
		t.Fatalf("expected certificates to exist: %v", err)
	}
	if rec.count("error") != 0 {
		t.Errorf("unexpected errors reported:\n%s", rec.dump())
	}
}

func TestCertificatesExist_ReportsExactlyTheMissing(t *testing.T) {
	fp := &fakePortal{certificates: map[portal.Platform][]portal.Certificate{
		portal.PlatformIOS: {{ID: "C2"}},
	}}
	rec := &recorder{}
	v := newVerifier(t, fp, rec)

	ids := []string{"C1", "C2", "C3"}
	err := v.CertificatesExist(context.Background(), ids, portal.PlatformIOS)
	var ue *UserError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UserError, got %v", err)
	}
	if diff := cmp.Diff([]string{"C1", "C3"}, ue.Missing); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"C1", "C2", "C3"}, ids); diff != "" {
		t.Errorf("input slice was modified (-want +got):\n%s", diff)
	}
	for _, id := range []string{"C1", "C3"} {
		if !rec.contains("error", "Certificate '"+id+"' (stored in your storage) is not available") {
			t.Errorf("expected report for %s:\n%s", id, rec.dump())
		}
	}
	if rec.contains("error", "Certificate 'C2'") {
		t.Error("C2 exists and should not be reported")
	}
}

func TestCertificatesExist_PlatformMapping(t *testing.T) {
	tests := []struct {
		platform portal.Platform
		want     portal.Platform
	}{
		{portal.PlatformIOS, portal.PlatformIOS},
		{portal.PlatformTVOS, portal.PlatformIOS},
		{portal.PlatformMacOS, portal.PlatformMacOS},
		{portal.PlatformCatalyst, portal.PlatformMacOS},
	}
	for _, tt := range tests {
		t.Run(string(tt.platform), func(t *testing.T) {
			fp := &fakePortal{certificates: map[portal.Platform][]portal.Certificate{
				tt.want: {{ID: "C1"}},
			}}
			v := newVerifier(t, fp, &recorder{})
			if err := v.CertificatesExist(context.Background(), []string{"C1"}, tt.platform); err != nil {
				t.Fatalf("CertificatesExist failed: %v", err)
			}
			if diff := cmp.Diff([]portal.Platform{tt.want}, fp.certPlatforms); diff != "" {
				t.Errorf("queried platforms mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCertificatesExist_CatalystSameAsMacOS(t *testing.T) {
	certs := map[portal.Platform][]portal.Certificate{
		portal.PlatformMacOS: {{ID: "M1"}},
		portal.PlatformIOS:   {{ID: "I1"}},
	}
	ids := []string{"M1", "I1"}

	errMac := newVerifier(t, &fakePortal{certificates: certs}, &recorder{}).
		CertificatesExist(context.Background(), ids, portal.PlatformMacOS)
	errCatalyst := newVerifier(t, &fakePortal{certificates: certs}, &recorder{}).
		CertificatesExist(context.Background(), ids, portal.PlatformCatalyst)

	var mac, catalyst *UserError
	if !errors.As(errMac, &mac) || !errors.As(errCatalyst, &catalyst) {
		t.Fatalf("expected user errors, got %v and %v", errMac, errCatalyst)
	}
	if diff := cmp.Diff(mac.Missing, catalyst.Missing); diff != "" {
		t.Errorf("catalyst differs from macos (-macos +catalyst):\n%s", diff)
	}
}

func TestCertificatesExist_Empty(t *testing.T) {
	fp := &fakePortal{}
	v := newVerifier(t, fp, &recorder{})
	if err := v.CertificatesExist(context.Background(), nil, portal.PlatformIOS); err != nil {
		t.Fatalf("expected no error for empty list: %v", err)
	}
}

func TestProfileExists_Valid(t *testing.T) {
	fp := &fakePortal{profiles: []portal.Profile{
		{ID: "P0", UUID: "other", State: portal.ProfileStateActive},
		{ID: "P1", UUID: "uuid-1", Name: "Example", State: portal.ProfileStateActive},
	}}
	v := newVerifier(t, fp, &recorder{})

	profile, state, err := v.ProfileExists(context.Background(), "uuid-1", portal.PlatformIOS)
	if err != nil {
		t.Fatalf("ProfileExists failed: %v", err)
	}
	if state != ProfileValid {
		t.Fatalf("expected valid, got %s", state)
	}
	if diff := cmp.Diff(fp.profiles[1], *profile); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}
	if len(fp.deleted) != 0 {
		t.Errorf("valid profile must not be deleted, deleted %v", fp.deleted)
	}
}

func TestProfileExists_Missing(t *testing.T) {
	fp := &fakePortal{profiles: []portal.Profile{{ID: "P0", UUID: "other", State: portal.ProfileStateActive}}}
	rec := &recorder{}
	v := newVerifier(t, fp, rec)

	profile, state, err := v.ProfileExists(context.Background(), "uuid-1", portal.PlatformIOS)
	if err != nil {
		t.Fatalf("ProfileExists failed: %v", err)
	}
	if state != ProfileMissing || profile != nil {
		t.Fatalf("expected missing, got %s %v", state, profile)
	}
	if len(fp.deleted) != 0 {
		t.Errorf("nothing should be deleted for a missing profile, deleted %v", fp.deleted)
	}
	if !rec.contains("error", "Provisioning profile 'uuid-1' is not available on the Developer Portal for the user dev@example.com") {
		t.Errorf("expected missing report:\n%s", rec.dump())
	}
}

func TestProfileExists_InvalidIsDeletedOnce(t *testing.T) {
	fp := &fakePortal{profiles: []portal.Profile{
		{ID: "P1", UUID: "uuid-1", Name: "Broken", State: portal.ProfileStateInvalid},
	}}
	rec := &recorder{}
	v := newVerifier(t, fp, rec)

	profile, state, err := v.ProfileExists(context.Background(), "uuid-1", portal.PlatformIOS)
	if err != nil {
		t.Fatalf("ProfileExists failed: %v", err)
	}
	if state != ProfileInvalid || profile != nil {
		t.Fatalf("expected invalid, got %s %v", state, profile)
	}
	if diff := cmp.Diff([]string{"P1"}, fp.deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}
	if !rec.contains("important", "'Broken' is available on the Developer Portal, however it's 'Invalid'") {
		t.Errorf("expected invalid report:\n%s", rec.dump())
	}
	if !state.NeedsRegeneration() {
		t.Error("invalid profile should need regeneration")
	}
}

func TestProfileState_NeedsRegeneration(t *testing.T) {
	for state, want := range map[ProfileState]bool{
		ProfileMissing:   true,
		ProfileInvalid:   true,
		ProfileExpired:   true,
		ProfileValid:     false,
		ProfileUnchecked: false,
	} {
		if got := state.NeedsRegeneration(); got != want {
			t.Errorf("%s.NeedsRegeneration() = %v, want %v", state, got, want)
		}
	}
}

func TestProfileState_String(t *testing.T) {
	for state, want := range map[ProfileState]string{
		ProfileMissing:   "missing",
		ProfileInvalid:   "invalid",
		ProfileValid:     "valid",
		ProfileExpired:   "expired",
		ProfileUnchecked: "unchecked",
		ProfileState(9):  "ProfileState(9)",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
	}
}
