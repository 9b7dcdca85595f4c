// Package config resolves the per-user configuration directory and gives
// the rest of backupvault a single key/value document (config.json) for
// preferences and the schedules list, plus the catalog database path that
// lives alongside it. The document is loaded through koanf with defaults
// merged under whatever the on-disk file overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const appName = "backupvault"

// Defaults holds the user preference fields and their default values.
type Defaults struct {
	Theme               string `json:"theme" koanf:"theme"`
	LastSource          string `json:"last_source" koanf:"last_source"`
	LastDestination     string `json:"last_destination" koanf:"last_destination"`
	LastMode            string `json:"last_mode" koanf:"last_mode"`
	ShowNotifications   bool   `json:"show_notifications" koanf:"show_notifications"`
	ConfirmBeforeBackup bool   `json:"confirm_before_backup" koanf:"confirm_before_backup"`
	EnableCompression   bool   `json:"enable_compression" koanf:"enable_compression"`
	EnableEncryption    bool   `json:"enable_encryption" koanf:"enable_encryption"`
	EncryptionPassword  string `json:"encryption_password" koanf:"encryption_password"`
}

func defaultSettings() Defaults {
	return Defaults{
		Theme:               "system",
		LastMode:            "full",
		ShowNotifications:   true,
		ConfirmBeforeBackup: true,
	}
}

// Store is the per-user configuration document: preferences merged with
// on-disk overrides, plus an arbitrary "schedules" document managed by
// internal/scheduler through GetRaw/SetRaw.
type Store struct {
	mu         sync.Mutex
	dir        string
	configPath string
	dbPath     string
	k          *koanf.Koanf
}

// Dir resolves the per-user config directory: XDG_CONFIG_HOME (or
// ~/.config) on Unix, LOCALAPPDATA on Windows.
func Dir() (string, error) {
	dir := filepath.Join(xdg.ConfigHome, appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create config dir %s: %w", dir, err)
	}
	return dir, nil
}

// Open loads (or creates) the configuration document under the resolved
// config directory.
func Open() (*Store, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return newStoreAt(dir)
}

// newStoreAt builds a Store rooted at an already-resolved directory,
// split out from Open so tests can point it at a temp directory instead
// of the real per-user XDG path (which adrg/xdg resolves once at package
// init, before any test can override it).
func newStoreAt(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create config dir %s: %w", dir, err)
	}
	s := &Store{
		dir:        dir,
		configPath: filepath.Join(dir, "config.json"),
		dbPath:     filepath.Join(dir, "backupvault.db"),
		k:          koanf.New("."),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	defaults := defaultSettings()
	raw, err := json.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	if err := s.k.Load(rawJSONProvider(raw), koanfjson.Parser()); err != nil {
		return fmt.Errorf("config: load defaults: %w", err)
	}

	if _, err := os.Stat(s.configPath); err == nil {
		if err := s.k.Load(file.Provider(s.configPath), koanfjson.Parser()); err != nil {
			return fmt.Errorf("config: load %s: %w", s.configPath, err)
		}
		return nil
	}
	return s.saveLocked()
}

// Save persists the current document to config.json.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.k.All(), "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal document: %w", err)
	}
	if err := os.WriteFile(s.configPath, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", s.configPath, err)
	}
	return nil
}

// DatabasePath returns the catalog's SQLite file path, sibling to config.json.
func (s *Store) DatabasePath() string {
	return s.dbPath
}

// ConfigDir returns the resolved per-user configuration directory.
func (s *Store) ConfigDir() string {
	return s.dir
}

// Preferences unmarshals the stored preferences, merging defaults for any
// keys absent from the document.
func (s *Store) Preferences() Defaults {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d Defaults
	_ = s.k.Unmarshal("", &d)
	return d
}

// SetPreferences overwrites the stored preference fields and saves.
func (s *Store) SetPreferences(d Defaults) error {
	s.mu.Lock()
	raw, err := json.Marshal(d)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("config: marshal preferences: %w", err)
	}
	if err := s.k.Load(rawJSONProvider(raw), koanfjson.Parser()); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("config: apply preferences: %w", err)
	}
	s.mu.Unlock()
	return s.Save()
}

// GetRaw unmarshals the document value stored under key into out (used by
// the scheduler to load/save its schedules list without this package
// knowing the scheduler's types).
func (s *Store) GetRaw(key string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.k.Exists(key) {
		return nil
	}
	return s.k.Unmarshal(key, out)
}

// SetRaw stores value under key and persists the document.
func (s *Store) SetRaw(key string, value interface{}) error {
	s.mu.Lock()
	if err := s.k.Set(key, value); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("config: set %s: %w", key, err)
	}
	s.mu.Unlock()
	return s.Save()
}

// rawJSONProvider adapts an in-memory JSON document to koanf's Provider
// interface so defaults can be merged the same way file.Provider merges
// the on-disk document.
type rawJSONProvider []byte

func (p rawJSONProvider) ReadBytes() ([]byte, error) { return p, nil }
func (p rawJSONProvider) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("config: Read unsupported, use ReadBytes")
}
