// Package config loads go-match settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aluedeke/go-match/pkg/portal"
	"github.com/aluedeke/go-match/pkg/storage"
)

// Defaults applied when neither the file nor the environment sets a value.
const (
	DefaultType     = storage.ProfileTypeDevelopment
	DefaultPlatform = portal.PlatformIOS
)

// Config mirrors the YAML file
type Config struct {
	Username       string   `yaml:"username"`
	TeamID         string   `yaml:"team_id"`
	TeamName       string   `yaml:"team_name"`
	StoragePath    string   `yaml:"storage_path"`
	Type           string   `yaml:"type"`
	Platform       string   `yaml:"platform"`
	AppIdentifiers []string `yaml:"app_identifiers"`
	// AppPath is a built .ipa or .app checked along with storage.
	AppPath  string `yaml:"app_path"`
	Readonly bool   `yaml:"readonly"`
	// StoragePasswordEnv names the variable holding the .p12 password.
	StoragePasswordEnv string `yaml:"storage_password_env"`
	CredentialsPath    string `yaml:"credentials_path"`

	APIKey APIKeyConfig `yaml:"api_key"`
}

// APIKeyConfig locates the App Store Connect API key.
type APIKeyConfig struct {
	KeyID    string `yaml:"key_id"`
	IssuerID string `yaml:"issuer_id"`
	// KeyPath is the .p8 file; KeyEnv names a variable holding its PEM contents.
	KeyPath string `yaml:"key_path"`
	KeyEnv  string `yaml:"key_env"`
}

// Key returns the PEM key contents from KeyEnv or KeyPath.
func (a APIKeyConfig) Key() ([]byte, error) {
	if a.KeyEnv != "" {
		if v := os.Getenv(a.KeyEnv); v != "" {
			return []byte(v), nil
		}
	}
	if a.KeyPath == "" {
		return nil, fmt.Errorf("no API key configured (set api_key.key_path or api_key.key_env)")
	}
	data, err := os.ReadFile(a.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read API key: %w", err)
	}
	return data, nil
}

// StoragePassword resolves the .p12 password from the environment
func (c *Config) StoragePassword() string {
	if c.StoragePasswordEnv == "" {
		return os.Getenv("GO_MATCH_STORAGE_PASSWORD")
	}
	return os.Getenv(c.StoragePasswordEnv)
}

// Load reads path (optional; empty means no file), then applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	return cfg, nil
}

// resolvePaths makes file paths in the config relative to the config file.
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.StoragePath, &c.CredentialsPath, &c.AppPath, &c.APIKey.KeyPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"GO_MATCH_USERNAME", &c.Username},
		{"GO_MATCH_TEAM_ID", &c.TeamID},
		{"GO_MATCH_TEAM_NAME", &c.TeamName},
		{"GO_MATCH_STORAGE", &c.StoragePath},
		{"GO_MATCH_TYPE", &c.Type},
		{"GO_MATCH_PLATFORM", &c.Platform},
		{"GO_MATCH_API_KEY_ID", &c.APIKey.KeyID},
		{"GO_MATCH_API_ISSUER_ID", &c.APIKey.IssuerID},
		{"GO_MATCH_API_KEY_PATH", &c.APIKey.KeyPath},
	}
	for _, o := range overrides {
		if v := getenv(o.env); v != "" {
			*o.dst = v
		}
	}
	if v := getenv("GO_MATCH_APP_IDENTIFIER"); v != "" {
		c.AppIdentifiers = splitList(v)
	}
	if v := getenv("GO_MATCH_READONLY"); v == "1" || strings.EqualFold(v, "true") {
		c.Readonly = true
	}
}

func (c *Config) applyDefaults() {
	if c.Type == "" {
		c.Type = string(DefaultType)
	}
	if c.Platform == "" {
		c.Platform = string(DefaultPlatform)
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if _, err := storage.ParseProfileType(c.Type); err != nil {
		errs = append(errs, err)
	}
	if _, err := portal.ParsePlatform(c.Platform); err != nil {
		errs = append(errs, err)
	}
	if c.StoragePath == "" {
		errs = append(errs, errors.New("storage path is required"))
	}
	if len(c.AppIdentifiers) == 0 && c.AppPath == "" {
		errs = append(errs, errors.New("at least one app identifier (or an app path) is required"))
	}
	if !c.Readonly {
		if c.Username == "" {
			errs = append(errs, errors.New("username is required unless running readonly"))
		}
		if c.TeamID == "" {
			errs = append(errs, errors.New("team id is required unless running readonly"))
		}
		if c.APIKey.KeyID == "" || c.APIKey.IssuerID == "" {
			errs = append(errs, errors.New("api_key.key_id and api_key.issuer_id are required unless running readonly"))
		}
		if c.APIKey.KeyPath == "" && c.APIKey.KeyEnv == "" {
			errs = append(errs, errors.New("api_key.key_path or api_key.key_env is required unless running readonly"))
		}
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
