package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/aluedeke/go-match/pkg/credentials"
	"github.com/aluedeke/go-match/pkg/portal"
)

// Portal is what the verifier needs from the developer portal.
type Portal interface {
	portal.Authenticator
	portal.Client
}

// ProfileState is the outcome of checking a stored profile against the portal.
type ProfileState int

const (
	// ProfileMissing: the portal has no profile with that UUID.
	ProfileMissing ProfileState = iota
	// ProfileInvalid: the profile existed but was invalid and has been deleted.
	ProfileInvalid
	// ProfileValid: the profile is registered and active.
	ProfileValid
	// ProfileExpired: the profile expired locally and was not looked up.
	ProfileExpired
	// ProfileUnchecked: the portal was not asked, as in readonly mode.
	ProfileUnchecked
)

func (s ProfileState) String() string {
	switch s {
	case ProfileMissing:
		return "missing"
	case ProfileInvalid:
		return "invalid"
	case ProfileValid:
		return "valid"
	case ProfileExpired:
		return "expired"
	case ProfileUnchecked:
		return "unchecked"
	}
	return fmt.Sprintf("ProfileState(%d)", int(s))
}

// NeedsRegeneration reports whether the caller has to create a new profile.
// An unchecked profile is not known to be broken.
func (s ProfileState) NeedsRegeneration() bool {
	switch s {
	case ProfileMissing, ProfileInvalid, ProfileExpired:
		return true
	}
	return false
}

// Options configures New
type Options struct {
	Portal      Portal
	Credentials credentials.Store
	Reporter    Reporter

	User     string
	TeamID   string
	TeamName string
}

// Verifier checks that stored signing assets are still registered on the portal.
type Verifier struct {
	portal   Portal
	session  *portal.Session
	reporter Reporter
}

// New logs in to the portal for the given team.
func New(ctx context.Context, opts Options) (*Verifier, error) {
	if opts.Portal == nil {
		return nil, fmt.Errorf("portal client is required")
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = Discard
	}

	// A saved secret is optional, but without one the operator may prefer
	// readonly mode, which never talks to the portal.
	if !hasSecret(opts.Credentials, opts.User) {
		reporter.Important("You can also run `go-match` in readonly mode to not require any access to the")
		reporter.Important("Developer Portal. This way you only share the keys and credentials")
		reporter.Command("go-match verify --readonly")
		reporter.Important("Readonly mode only validates the certificates and profiles in your storage")
	}

	reporter.Message("Verifying that the certificate and profile are still valid on the Dev Portal...")
	sess, err := opts.Portal.Login(ctx, opts.User, opts.TeamID, opts.TeamName)
	if err != nil {
		return nil, err
	}

	return &Verifier{portal: opts.Portal, session: sess, reporter: reporter}, nil
}

func hasSecret(store credentials.Store, user string) bool {
	if store == nil {
		return false
	}
	secret, ok := store.Secret(user)
	return ok && secret != ""
}

// TeamID returns the team of the logged in session
func (v *Verifier) TeamID() string {
	return v.session.TeamID
}

// Session returns the portal session
func (v *Verifier) Session() *portal.Session {
	return v.session
}

// BundleIdentifierExists returns a *UserError when appIdentifier is not
// registered; nothing can be provisioned for it until it is.
func (v *Verifier) BundleIdentifierExists(ctx context.Context, appIdentifier string) error {
	found, err := v.portal.FindBundleID(ctx, v.session, appIdentifier)
	if err != nil {
		return err
	}
	if found != nil {
		return nil
	}

	user := v.session.User
	v.reporter.Message("")
	v.reporter.Important("==========================================")
	v.reporter.Message("Could not find App ID with bundle identifier '%s'", appIdentifier)
	v.reporter.Message("You can easily generate a new App ID on the Developer Portal using 'produce':")
	v.reporter.Message("")
	v.reporter.Command(produceCommand(user, appIdentifier))
	v.reporter.Message("")
	v.reporter.Message("You will be asked for any missing information, like the full name of your app")
	v.reporter.Message("If the app should also be created on App Store Connect, remove the --skip_itc from the above command")
	v.reporter.Important("==========================================")
	v.reporter.Message("")

	v.reporter.Error("An app with that bundle ID needs to exist in order to create a provisioning profile for it")
	v.reporter.Error("================================================================")

	all, err := v.portal.ListBundleIDs(ctx, v.session)
	if err != nil {
		return err
	}
	available := make([]string, 0, len(all))
	for _, b := range all {
		available = append(available, fmt.Sprintf("%s (%s)", b.Identifier, b.Name))
	}
	v.reporter.Message("Available apps:\n- %s", strings.Join(available, "\n- "))
	v.reporter.Error("Make sure to run `go-match` with the same user and team every time.")

	ue := userErrorf("Couldn't find bundle identifier '%s' for the user '%s'", appIdentifier, user)
	ue.Missing = []string{appIdentifier}
	return ue
}

func produceCommand(user, appIdentifier string) string {
	cmd := "fastlane produce"
	if user != "" {
		cmd += " -u " + user
	}
	return cmd + " -a " + appIdentifier + " --skip_itc"
}

// CertificatesExist returns a *UserError listing every ID in certificateIDs
// that the portal does not know for platform. A certificate that is trusted
// locally but gone remotely has most likely been revoked.
func (v *Verifier) CertificatesExist(ctx context.Context, certificateIDs []string, platform portal.Platform) error {
	platform = platform.CertificatePlatform()

	remote, err := v.portal.ListCertificates(ctx, v.session, platform)
	if err != nil {
		return err
	}
	registered := make(map[string]bool, len(remote))
	for _, c := range remote {
		registered[c.ID] = true
	}

	var missing []string
	for _, id := range certificateIDs {
		if !registered[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	for _, id := range missing {
		v.reporter.Error("Certificate '%s' (stored in your storage) is not available on the Developer Portal", id)
	}
	v.reporter.Error("for the user %s", v.session.User)
	v.reporter.Error("Make sure to use the same user and team every time you run 'go-match' for this")
	v.reporter.Error("storage. This might be caused by revoking the certificate on the Dev Portal")

	ue := userErrorf("To reset the certificates of your Apple account, revoke them on the Developer Portal and remove them from your storage")
	ue.Missing = missing
	return ue
}

// ProfileExists looks up the profile with uuid. Invalid profiles are deleted
// from the portal, which has the same effect for the caller as a missing one:
// a new profile, with a new UUID, has to be created.
func (v *Verifier) ProfileExists(ctx context.Context, uuid string, platform portal.Platform) (*portal.Profile, ProfileState, error) {
	// The API cannot filter profiles by UUID (or platform), so search client side.
	profiles, err := v.portal.ListProfiles(ctx, v.session)
	if err != nil {
		return nil, ProfileMissing, err
	}

	var found *portal.Profile
	for i := range profiles {
		if profiles[i].UUID == uuid {
			found = &profiles[i]
			break
		}
	}

	if found == nil {
		v.reporter.Error("Provisioning profile '%s' is not available on the Developer Portal for the user %s, fixing this now for you 🔨", uuid, v.session.User)
		return nil, ProfileMissing, nil
	}

	if found.Valid() {
		return found, ProfileValid, nil
	}

	v.reporter.Important("'%s' is available on the Developer Portal, however it's 'Invalid', fixing this now for you 🔨", found.Name)
	if err := v.portal.DeleteProfile(ctx, v.session, found.ID); err != nil {
		return nil, ProfileInvalid, err
	}
	return nil, ProfileInvalid, nil
}
