// Package bundle reads signing details out of built .app bundles and .ipa archives.
package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"

	"github.com/aluedeke/go-match/pkg/storage"
)

// App is an opened application bundle.
type App struct {
	// Path is the .app directory (inside the temp dir for IPAs).
	Path string
	// Source is the path passed to Open.
	Source string

	contents string
	info     map[string]interface{}
	tempDir  string
}

// Open opens a .app directory or an .ipa archive. Call Close when done.
func Open(path string) (*App, error) {
	app := &App{Source: path, Path: path}

	if strings.HasSuffix(strings.ToLower(path), ".ipa") {
		tempDir, err := extractIPA(path)
		if err != nil {
			return nil, err
		}
		app.tempDir = tempDir
		if app.Path, err = findAppBundle(tempDir); err != nil {
			app.Close()
			return nil, err
		}
	}

	// macOS bundles keep everything under Contents/
	app.contents = app.Path
	if _, err := os.Stat(filepath.Join(app.Path, "Contents", "Info.plist")); err == nil {
		app.contents = filepath.Join(app.Path, "Contents")
	}

	data, err := os.ReadFile(filepath.Join(app.contents, "Info.plist"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to read Info.plist: %w", err)
	}
	if _, err := plist.Unmarshal(data, &app.info); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to parse Info.plist: %w", err)
	}
	return app, nil
}

// Close removes the extraction directory of an IPA
func (a *App) Close() error {
	if a.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(a.tempDir)
	a.tempDir = ""
	return err
}

// BundleID returns CFBundleIdentifier
func (a *App) BundleID() (string, error) {
	return a.infoString("CFBundleIdentifier")
}

// ExecutableName returns CFBundleExecutable
func (a *App) ExecutableName() (string, error) {
	return a.infoString("CFBundleExecutable")
}

func (a *App) infoString(key string) (string, error) {
	v, ok := a.info[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s not found in Info.plist", key)
	}
	return v, nil
}

// ExecutablePath returns the main binary of the bundle
func (a *App) ExecutablePath() (string, error) {
	name, err := a.ExecutableName()
	if err != nil {
		return "", err
	}
	if a.contents != a.Path {
		return filepath.Join(a.contents, "MacOS", name), nil
	}
	return filepath.Join(a.Path, name), nil
}

// EmbeddedProfile parses the provisioning profile shipped in the bundle.
func (a *App) EmbeddedProfile() (*storage.ProvisioningProfile, error) {
	for _, name := range []string{"embedded.mobileprovision", "embedded.provisionprofile"} {
		profile, err := storage.LoadProvisioningProfile(filepath.Join(a.contents, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return profile, err
	}
	return nil, fmt.Errorf("embedded profile: %w", storage.ErrNotFound)
}

// SigningTeamID returns the team ID from the main executable's code signature.
func (a *App) SigningTeamID() (string, error) {
	path, err := a.ExecutablePath()
	if err != nil {
		return "", err
	}
	return SigningTeamID(path)
}
