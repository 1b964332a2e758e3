package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/aluedeke/go-match/pkg/bundle"
	"github.com/aluedeke/go-match/pkg/config"
	"github.com/aluedeke/go-match/pkg/credentials"
	"github.com/aluedeke/go-match/pkg/match"
	"github.com/aluedeke/go-match/pkg/portal"
	"github.com/aluedeke/go-match/pkg/storage"
)

const version = "1.0.0"

const usage = `go-match - Verify shared signing certificates and profiles

Checks that the certificates and provisioning profiles kept in a shared
storage directory are still registered and valid on the Apple Developer Portal.

Usage:
  go-match verify [--config=<path>] [--storage=<dir>] [--user=<user>] [--team-id=<id>] [--team-name=<name>] [--app-identifier=<id>...] [--app=<path>] [--type=<type>] [--platform=<platform>] [--readonly] [--verbose]
  go-match info --storage=<dir> [--type=<type>] [--bundleid=<id>] [--platform=<platform>]
  go-match -h | --help
  go-match --version

Commands:
  verify    Check storage against the Developer Portal
  info      Display the certificates and profiles in storage

Options:
  --config=<path>          YAML configuration file (or GO_MATCH_CONFIG env var)
  --storage=<dir>          Decrypted storage directory
  --user=<user>            Apple ID the storage belongs to
  --team-id=<id>           Developer Portal team ID
  --team-name=<name>       Developer Portal team name
  --app-identifier=<id>    Bundle identifier to check, can be repeated
  --app=<path>             Also check a built .ipa or .app against storage
  --type=<type>            development, appstore, adhoc, enterprise or developer_id
  --platform=<platform>    ios, tvos, macos or catalyst
  --bundleid=<id>          Show the stored profile for this bundle identifier
  --readonly               Only check local files, never contact the portal
  --verbose                Log portal requests
  -h --help                Show this help message
  --version                Show version

Environment Variables:
  GO_MATCH_USERNAME, GO_MATCH_TEAM_ID, GO_MATCH_STORAGE, GO_MATCH_APP_IDENTIFIER,
  GO_MATCH_TYPE, GO_MATCH_PLATFORM, GO_MATCH_READONLY
  GO_MATCH_API_KEY_ID, GO_MATCH_API_ISSUER_ID, GO_MATCH_API_KEY_PATH
  GO_MATCH_STORAGE_PASSWORD    Password of the .p12 files in storage
  GO_MATCH_PASSWORD            Saved portal secret (GO_MATCH_PASSWORD_<USER> per user)

Examples:
  # Verify development profiles of one app
  go-match verify --config=match.yml --app-identifier=com.example.app

  # Verify the App Store profile embedded in a build
  go-match verify --config=match.yml --type=appstore --app=Example.ipa

  # Only check the local storage
  go-match verify --storage=./certificates --app-identifier=com.example.app --readonly

  # Show what is in storage
  go-match info --storage=./certificates --type=appstore --bundleid=com.example.app
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if verify, _ := opts.Bool("verify"); verify {
		err = runVerify(ctx, opts)
	} else if info, _ := opts.Bool("info"); info {
		err = runInfo(opts)
	}
	if err != nil {
		exitWithError(err)
	}
}

func exitWithError(err error) {
	var ue *match.UserError
	if errors.As(err, &ue) {
		color.New(color.FgRed).Fprintln(os.Stderr, ue.Message)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

// loadConfig merges the config file, environment and flags, with flags winning.
func loadConfig(opts docopt.Opts) (*config.Config, error) {
	path, _ := opts.String("--config")
	if path == "" {
		path = os.Getenv("GO_MATCH_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	for flag, dst := range map[string]*string{
		"--storage":   &cfg.StoragePath,
		"--user":      &cfg.Username,
		"--team-id":   &cfg.TeamID,
		"--team-name": &cfg.TeamName,
		"--type":      &cfg.Type,
		"--platform":  &cfg.Platform,
		"--app":       &cfg.AppPath,
	} {
		if v, _ := opts.String(flag); v != "" {
			*dst = v
		}
	}
	if ids, ok := opts["--app-identifier"].([]string); ok && len(ids) > 0 {
		cfg.AppIdentifiers = ids
	}
	if readonly, _ := opts.Bool("--readonly"); readonly {
		cfg.Readonly = true
	}
	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func credentialStore(cfg *config.Config) (credentials.Store, error) {
	chain := credentials.Chain{}
	if cfg.CredentialsPath != "" {
		fs, err := credentials.LoadFileStore(cfg.CredentialsPath)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fs)
	}
	return append(chain, credentials.NewEnvStore()), nil
}

func runVerify(ctx context.Context, opts docopt.Opts) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return &match.UserError{Message: fmt.Sprintf("Invalid configuration:\n%v", err)}
	}

	profileType, _ := storage.ParseProfileType(cfg.Type)
	platform, _ := portal.ParsePlatform(cfg.Platform)

	verbose, _ := opts.Bool("--verbose")
	logger, err := newLogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	repo, err := storage.Open(cfg.StoragePath)
	if err != nil {
		return err
	}

	reporter := match.NewConsoleReporter(os.Stdout)
	runner := &match.Runner{
		Storage:  repo,
		Reporter: reporter,
		Password: cfg.StoragePassword(),
	}

	if !cfg.Readonly {
		keyData, err := cfg.APIKey.Key()
		if err != nil {
			return err
		}
		key, err := portal.ParseAPIKey(cfg.APIKey.KeyID, cfg.APIKey.IssuerID, keyData)
		if err != nil {
			return err
		}
		store, err := credentialStore(cfg)
		if err != nil {
			return err
		}

		runner.Verifier, err = match.New(ctx, match.Options{
			Portal:      portal.NewHTTPClient(key, portal.WithLogger(logger)),
			Credentials: store,
			Reporter:    reporter,
			User:        cfg.Username,
			TeamID:      cfg.TeamID,
			TeamName:    cfg.TeamName,
		})
		if err != nil {
			return err
		}
	}

	params := match.Params{
		AppIdentifiers: cfg.AppIdentifiers,
		Type:           profileType,
		Platform:       platform,
		Readonly:       cfg.Readonly,
	}
	if cfg.AppPath != "" {
		app, err := bundle.Open(cfg.AppPath)
		if err != nil {
			return err
		}
		defer app.Close()
		params.App = app
	}

	result, err := runner.Run(ctx, params)
	if err != nil {
		return err
	}
	if len(result.Regenerate) > 0 {
		return &match.UserError{
			Message: fmt.Sprintf("%d provisioning profile(s) need to be regenerated", len(result.Regenerate)),
			Missing: result.Regenerate,
		}
	}
	return nil
}

func runInfo(opts docopt.Opts) error {
	storagePath, _ := opts.String("--storage")
	typeName, _ := opts.String("--type")
	bundleID, _ := opts.String("--bundleid")
	platformName, _ := opts.String("--platform")

	if typeName == "" {
		typeName = string(config.DefaultType)
	}
	if platformName == "" {
		platformName = string(config.DefaultPlatform)
	}
	profileType, err := storage.ParseProfileType(typeName)
	if err != nil {
		return err
	}
	platform, err := portal.ParsePlatform(platformName)
	if err != nil {
		return err
	}

	repo, err := storage.Open(storagePath)
	if err != nil {
		return err
	}

	certs, err := repo.Certificates(profileType.CertificateType())
	if err != nil {
		return err
	}

	fmt.Println("Storage Information")
	fmt.Println("===================")
	fmt.Printf("Path:           %s\n", repo.Root())
	fmt.Printf("Type:           %s\n", profileType)
	fmt.Printf("Platform:       %s\n", platform)
	fmt.Printf("Certificates:   %d\n", len(certs))
	for i, c := range certs {
		fmt.Printf("  [%d] %s (%s)\n", i+1, c.ID, c.Certificate.Subject.CommonName)
		fmt.Printf("      Serial: %s\n", c.Certificate.SerialNumber.String())
		fmt.Printf("      Expires: %s\n", c.Certificate.NotAfter.Format("2006-01-02"))
		if team := storage.TeamIDFromCertificate(c.Certificate); team != "" {
			fmt.Printf("      Team ID: %s\n", team)
		}
		fmt.Printf("      Private key: %v\n", c.HasKey)
	}

	if bundleID == "" {
		return nil
	}
	profile, err := repo.Profile(profileType, bundleID, platform)
	if err != nil {
		return err
	}
	fmt.Println()
	showProfileInfo(profile)
	return nil
}

func showProfileInfo(profile *storage.ProvisioningProfile) {
	fmt.Println("Provisioning Profile Information")
	fmt.Println("================================")
	fmt.Printf("File:           %s\n", profile.Path)
	fmt.Printf("Name:           %s\n", profile.Name)
	fmt.Printf("Team ID:        %s\n", profile.GetTeamID())
	fmt.Printf("App ID:         %s\n", profile.GetApplicationIdentifier())
	fmt.Printf("UUID:           %s\n", profile.UUID)
	fmt.Printf("Created:        %s\n", profile.CreationDate.Format("2006-01-02 15:04:05"))
	fmt.Printf("Expiration:     %s\n", profile.ExpirationDate.Format("2006-01-02 15:04:05"))
	fmt.Printf("Expired:        %v\n", profile.IsExpired(time.Now()))
	if certs, err := profile.GetCertificates(); err == nil {
		fmt.Printf("Certificates:   %d\n", len(certs))
		for i, cert := range certs {
			fmt.Printf("  [%d] %s\n", i+1, cert.Subject.CommonName)
			fmt.Printf("      Serial: %s\n", cert.SerialNumber.String())
			fmt.Printf("      Expires: %s\n", cert.NotAfter.Format("2006-01-02"))
		}
	}
	if len(profile.ProvisionedDevices) > 0 {
		fmt.Printf("Devices:        %d\n", len(profile.ProvisionedDevices))
	}
}
