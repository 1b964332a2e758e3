// Package match verifies shared signing assets against the Apple Developer Portal.
//
// A Verifier answers three questions for a logged in team: is a bundle
// identifier registered, are the stored certificates still known, and is a
// stored provisioning profile still valid. Profiles that turn out invalid are
// deleted from the portal so they can be regenerated.
//
// # Basic Usage
//
//	v, err := match.New(ctx, match.Options{
//	    Portal:   portal.NewHTTPClient(key),
//	    Reporter: match.NewConsoleReporter(os.Stdout),
//	    User:     "dev@example.com",
//	    TeamID:   "ABCDE12345",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, state, err := v.ProfileExists(ctx, uuid, portal.PlatformIOS)
//
// Runner combines the Verifier with a storage.Repo and checks every app
// identifier of a storage directory in one go.
//
// Fatal conditions are returned as *UserError after the details have been
// sent to the Reporter.
package match
