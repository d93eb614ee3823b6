// Package client holds the passe client's local state and the sync protocol
// that reconciles it with a server.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"passe/internal/domain"
)

// ConfigFile is the persisted client state.
type ConfigFile struct {
	Credential *domain.Authentication `json:"credential,omitempty"`
	Defaults   domain.DomainConfig    `json:"defaults"`
	Domains    domain.Domains         `json:"domains"`
	Changes    domain.Changes         `json:"changes"`
}

// Store is the client config store. Edits never touch the last synced
// domain map; they accumulate as changes until the next sync.
type Store struct {
	path  string
	file  ConfigFile
	dirty bool
}

// DefaultPath returns ~/.config/passe/user.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".config", "passe", "user.json"), nil
}

// Load reads the config file at path. A missing file yields an empty store
// with default settings.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &s.file); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if s.file.Defaults.Length == 0 {
		s.file.Defaults = domain.DefaultDomainConfig()
	}
	if s.file.Domains == nil {
		s.file.Domains = make(domain.Domains)
	}
	if s.file.Changes == nil {
		s.file.Changes = make(domain.Changes)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Dirty reports whether the store holds unsaved modifications.
func (s *Store) Dirty() bool { return s.dirty }

// Save writes the config file if anything changed since it was loaded.
func (s *Store) Save() error {
	if !s.dirty {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(s.file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// ForDomain resolves the effective configuration for name. A pending change
// wins over the synced value; with neither, the defaults are returned.
func (s *Store) ForDomain(name string) domain.Defaulted[domain.DomainConfig] {
	if c, ok := s.file.Changes[name]; ok {
		if c.IsDelete() {
			return domain.Default(s.file.Defaults)
		}
		return domain.Explicit(c.Config)
	}
	if cfg, ok := s.file.Domains[name]; ok {
		return domain.Explicit(cfg)
	}
	return domain.Default(s.file.Defaults)
}

// Stage records cfg as the pending configuration for name.
func (s *Store) Stage(name string, cfg domain.DomainConfig) error {
	if name == "" {
		return errors.New("domain is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.file.Changes[name] = domain.Set(cfg)
	s.dirty = true
	return nil
}

// StageDelete records a pending removal of name.
func (s *Store) StageDelete(name string) {
	s.file.Changes[name] = domain.Delete()
	s.dirty = true
}

// Changes returns a copy of the pending edits, the incremental sync payload.
func (s *Store) Changes() domain.Changes {
	out := make(domain.Changes, len(s.file.Changes))
	for k, v := range s.file.Changes {
		out[k] = v
	}
	return out
}

// FullChanges returns every effective domain as a Set, the full sync payload.
// Pending deletions are left out.
func (s *Store) FullChanges() domain.Changes {
	out := make(domain.Changes)
	for _, name := range s.Domains() {
		out[name] = domain.Set(s.ForDomain(name).Value())
	}
	return out
}

// PostSync adopts the server's canonical map and drops the pending edits.
func (s *Store) PostSync(domains domain.Domains) {
	s.file.Domains = domains.Clone()
	s.file.Changes = make(domain.Changes)
	s.dirty = true
}

// Domains lists the effective domain names in order.
func (s *Store) Domains() []string {
	names := make([]string, 0, len(s.file.Domains)+len(s.file.Changes))
	for name := range s.file.Domains {
		if c, ok := s.file.Changes[name]; ok && c.IsDelete() {
			continue
		}
		names = append(names, name)
	}
	for name, c := range s.file.Changes {
		if _, synced := s.file.Domains[name]; synced || c.IsDelete() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Credential returns the cached bearer credential, if any.
func (s *Store) Credential() (domain.Authentication, bool) {
	if s.file.Credential == nil {
		return domain.Authentication{}, false
	}
	return *s.file.Credential, true
}

func (s *Store) SetCredential(a domain.Authentication) {
	s.file.Credential = &a
	s.dirty = true
}

func (s *Store) Defaults() domain.DomainConfig {
	return s.file.Defaults
}
