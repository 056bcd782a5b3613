// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-jsign.
//
// go-jsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-jsign/pkg/logging"
	"github.com/jeremyhahn/go-jsign/pkg/storage"
	"github.com/jeremyhahn/go-jsign/pkg/storage/file"
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

const (
	// DefaultDirName is the configuration directory under the user's home.
	DefaultDirName = ".jsign"

	// Key is the storage key of the persisted configuration.
	Key = "configuration.yaml"
)

// Manager loads and stores the Configuration on a storage backend.
type Manager struct {
	store  storage.Backend
	logger *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager over store.
func NewManager(store storage.Backend, opts ...Option) *Manager {
	m := &Manager{store: store}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.DefaultLogger()
	}
	return m
}

// NewFileManager creates a manager writing to dir, or to DefaultDir when
// dir is empty.
func NewFileManager(dir string, opts ...Option) (*Manager, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	store, err := file.New(dir)
	if err != nil {
		return nil, fmt.Errorf("config: failed to open %s: %w", dir, err)
	}
	return NewManager(store, opts...), nil
}

// DefaultDir returns $HOME/.jsign.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to locate home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Load reads the persisted configuration and applies environment variable
// overrides.
func (m *Manager) Load() (*Configuration, error) {
	data, err := m.store.Get(Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoConfiguration
		}
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if cfg.KeyStoreType != "" {
		st, err := types.ParseStoreType(string(cfg.KeyStoreType))
		if err != nil {
			return nil, fmt.Errorf("%w: key store type %q", ErrInvalidConfiguration, cfg.KeyStoreType)
		}
		cfg.KeyStoreType = st
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Write persists cfg atomically; on failure the previous configuration is
// left in place.
func (m *Manager) Write(cfg *Configuration) error {
	if cfg == nil {
		cfg = &Configuration{}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := m.store.Put(Key, data, storage.DefaultOptions()); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	m.logger.Debugf("config: wrote %s", cfg)
	return nil
}

// Clear removes the persisted configuration and returns the defaults.
func (m *Manager) Clear() *Configuration {
	if err := m.store.Delete(Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warnf("config: failed to clear configuration: %v", err)
	}
	return &Configuration{}
}

// Close closes the underlying storage.
func (m *Manager) Close() error {
	return m.store.Close()
}

// applyEnvOverrides lets packaging scripts point at a module or store
// without touching the persisted file.
func applyEnvOverrides(cfg *Configuration) {
	if lib := os.Getenv("JSIGN_PKCS11_LIBRARY"); lib != "" && cfg.KeyStoreType == types.StorePKCS11 {
		cfg.Library = lib
	}
	if path := os.Getenv("JSIGN_PKCS12_PATH"); path != "" && cfg.KeyStoreType == types.StorePKCS12 {
		cfg.PKCS12Path = path
	}
}
