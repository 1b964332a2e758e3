// Package credentials answers whether a secret has been saved for a portal user.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Store looks up a saved secret for a user
type Store interface {
	Secret(user string) (string, bool)
}

// FileStore is a YAML file of per-user secrets:
//
//	users:
//	  dev@example.com:
//	    secret_env: PORTAL_SECRET
type FileStore struct {
	Users map[string]Entry `yaml:"users"`
}

// Entry holds a literal secret or the name of the environment variable holding it.
type Entry struct {
	Secret    string `yaml:"secret"`
	SecretEnv string `yaml:"secret_env"`
}

// LoadFileStore reads path. A missing file is an empty store.
func LoadFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &FileStore{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var fs FileStore
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	return &fs, nil
}

// Secret implements Store
func (fs *FileStore) Secret(user string) (string, bool) {
	entry, ok := fs.Users[user]
	if !ok {
		return "", false
	}
	secret := entry.Secret
	if secret == "" && entry.SecretEnv != "" {
		secret = os.Getenv(entry.SecretEnv)
	}
	return secret, secret != ""
}

// EnvStore reads GO_MATCH_PASSWORD_<USER>, falling back to GO_MATCH_PASSWORD.
type EnvStore struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore uses the process environment
func NewEnvStore() *EnvStore {
	return &EnvStore{Prefix: "GO_MATCH_PASSWORD", lookup: os.LookupEnv}
}

// Secret implements Store
func (es *EnvStore) Secret(user string) (string, bool) {
	lookup := es.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if user != "" {
		if v, ok := lookup(es.Prefix + "_" + EnvKey(user)); ok && v != "" {
			return v, true
		}
	}
	if v, ok := lookup(es.Prefix); ok && v != "" {
		return v, true
	}
	return "", false
}

// EnvKey upper-cases user and replaces anything not alphanumeric with '_'.
func EnvKey(user string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, user)
}

// Chain returns the first secret found in stores
type Chain []Store

// Secret implements Store
func (c Chain) Secret(user string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Secret(user); ok {
			return v, true
		}
	}
	return "", false
}
