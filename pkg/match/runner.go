package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aluedeke/go-match/pkg/bundle"
	"github.com/aluedeke/go-match/pkg/portal"
	"github.com/aluedeke/go-match/pkg/storage"
)

// Runner checks the contents of a storage directory, and the portal unless
// it has no Verifier.
type Runner struct {
	Storage *storage.Repo
	// Verifier is nil in readonly mode.
	Verifier *Verifier
	Reporter Reporter
	// Password decrypts the .p12 files in storage.
	Password string
	Now      func() time.Time
}

// Params selects what to check
type Params struct {
	AppIdentifiers []string
	Type           storage.ProfileType
	Platform       portal.Platform
	Readonly       bool
	// App, when set, is checked against storage and the portal as well. Its
	// bundle ID is used when AppIdentifiers is empty.
	App *bundle.App
}

// Result summarizes a run
type Result struct {
	TeamID       string
	Certificates []string
	// Valid holds the portal profiles that are registered and active.
	Valid []*portal.Profile
	// Regenerate holds the app identifiers that need a new profile.
	Regenerate []string
	// EmbeddedProfile is the state of the profile embedded in Params.App.
	EmbeddedProfile *EmbeddedProfile
}

// EmbeddedProfile describes the profile shipped inside an app bundle
type EmbeddedProfile struct {
	UUID   string
	TeamID string
	// Stored is set when the same profile is in storage.
	Stored bool
	State  ProfileState
}

// Run checks every app identifier of p
func (r *Runner) Run(ctx context.Context, p Params) (*Result, error) {
	if r.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	readonly := p.Readonly || r.Verifier == nil
	reporter := r.reporter()
	now := r.now()

	appIdentifiers := dedupe(p.AppIdentifiers)
	if len(appIdentifiers) == 0 && p.App != nil {
		id, err := p.App.BundleID()
		if err != nil {
			return nil, err
		}
		appIdentifiers = []string{id}
	}
	if len(appIdentifiers) == 0 {
		return nil, userErrorf("No app identifier given")
	}

	certType := p.Type.CertificateType()
	certs, err := r.Storage.Certificates(certType)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, userErrorf("No %s certificates found in storage %s", certType, r.Storage.Root())
	}

	result := &Result{}
	for _, c := range certs {
		result.Certificates = append(result.Certificates, c.ID)
		if now.After(c.Certificate.NotAfter) {
			reporter.Important("Certificate '%s' (%s) expired on %s", c.ID, c.Certificate.Subject.CommonName, c.Certificate.NotAfter.Format(time.RFC3339))
		}
		r.checkIdentity(c)
	}

	if !readonly {
		result.TeamID = r.Verifier.TeamID()
		for _, id := range appIdentifiers {
			if err := r.Verifier.BundleIdentifierExists(ctx, id); err != nil {
				return nil, err
			}
		}
		if err := r.Verifier.CertificatesExist(ctx, result.Certificates, p.Platform); err != nil {
			return nil, err
		}
	}

	stored := make(map[string]bool)
	checked := make(map[string]ProfileState)
	for _, id := range appIdentifiers {
		profile, err := r.Storage.Profile(p.Type, id, p.Platform)
		if errors.Is(err, storage.ErrNotFound) {
			reporter.Important("No %s profile for '%s' in storage", p.Type, id)
			result.Regenerate = append(result.Regenerate, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		stored[profile.UUID] = true

		if result.TeamID == "" {
			result.TeamID = profile.GetTeamID()
		}
		r.checkProfile(profile, certs, result.TeamID)

		if profile.IsExpired(now) {
			reporter.Important("Profile '%s' for '%s' expired on %s", profile.Name, id, profile.ExpirationDate.Format(time.RFC3339))
			checked[profile.UUID] = ProfileExpired
			result.Regenerate = append(result.Regenerate, id)
			continue
		}
		if readonly {
			continue
		}

		remote, state, err := r.Verifier.ProfileExists(ctx, profile.UUID, p.Platform)
		if err != nil {
			return nil, err
		}
		checked[profile.UUID] = state
		if state.NeedsRegeneration() {
			result.Regenerate = append(result.Regenerate, id)
			continue
		}
		result.Valid = append(result.Valid, remote)
	}

	if p.App != nil {
		embedded, err := r.checkApp(ctx, p, result.TeamID, stored, checked, readonly)
		if err != nil {
			return nil, err
		}
		result.EmbeddedProfile = embedded
		if embedded != nil && embedded.State.NeedsRegeneration() {
			id, err := p.App.BundleID()
			if err != nil {
				return nil, err
			}
			result.Regenerate = appendUnique(result.Regenerate, id)
		}
	}

	if len(result.Regenerate) == 0 {
		reporter.Success("All required keys, certificates and provisioning profiles are valid 🙌")
	} else {
		reporter.Important("Profiles to regenerate: %v", result.Regenerate)
	}
	return result, nil
}

func (r *Runner) checkIdentity(c storage.Certificate) {
	if !c.HasKey {
		r.reporter().Important("No private key stored for certificate '%s'", c.ID)
		return
	}
	id, err := r.Storage.Identity(c.Type, c.ID, r.Password)
	if err != nil {
		r.reporter().Error("Private key for certificate '%s' could not be read: %v", c.ID, err)
		return
	}
	if !id.Certificate.Equal(c.Certificate) {
		r.reporter().Error("Private key bundle for certificate '%s' holds a different certificate", c.ID)
	}
}

func (r *Runner) checkProfile(profile *storage.ProvisioningProfile, certs []storage.Certificate, teamID string) {
	if team := profile.GetTeamID(); teamID != "" && team != teamID {
		r.reporter().Important("Profile '%s' belongs to team %s, not %s", profile.Name, team, teamID)
	}
	for _, c := range certs {
		if profile.MatchesCertificate(c.Certificate) {
			return
		}
	}
	r.reporter().Important("Profile '%s' does not include any of the stored certificates", profile.Name)
}

func (r *Runner) checkApp(ctx context.Context, p Params, teamID string, stored map[string]bool, checked map[string]ProfileState, readonly bool) (*EmbeddedProfile, error) {
	reporter := r.reporter()

	signingTeam, err := p.App.SigningTeamID()
	switch {
	case errors.Is(err, bundle.ErrNoSignature):
		reporter.Important("%s is not code signed", p.App.Source)
	case err != nil:
		reporter.Important("Could not read the code signature of %s: %v", p.App.Source, err)
	case signingTeam == "":
		reporter.Important("%s is ad-hoc signed", p.App.Source)
	case teamID != "" && signingTeam != teamID:
		reporter.Important("%s is signed by team %s, not %s", p.App.Source, signingTeam, teamID)
	}

	profile, err := p.App.EmbeddedProfile()
	if errors.Is(err, storage.ErrNotFound) {
		reporter.Important("%s has no embedded provisioning profile", p.App.Source)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	embedded := &EmbeddedProfile{
		UUID:   profile.UUID,
		TeamID: profile.GetTeamID(),
		Stored: stored[profile.UUID],
		State:  ProfileUnchecked,
	}
	if !embedded.Stored {
		reporter.Important("%s embeds profile '%s', which is not the one in storage", p.App.Source, profile.UUID)
	}
	if state, ok := checked[profile.UUID]; ok {
		embedded.State = state
		return embedded, nil
	}
	if profile.IsExpired(r.now()) {
		reporter.Important("Embedded profile '%s' has expired", profile.Name)
		embedded.State = ProfileExpired
		return embedded, nil
	}
	if readonly {
		return embedded, nil
	}

	_, state, err := r.Verifier.ProfileExists(ctx, profile.UUID, p.Platform)
	if err != nil {
		return nil, err
	}
	embedded.State = state
	return embedded, nil
}

// dedupe drops repeated identifiers, keeping the first occurrence.
func dedupe(ids []string) []string {
	var out []string
	for _, id := range ids {
		out = appendUnique(out, id)
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func (r *Runner) reporter() Reporter {
	if r.Reporter == nil {
		return Discard
	}
	return r.Reporter
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
