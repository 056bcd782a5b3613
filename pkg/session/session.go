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

// Package session ties the persisted configuration, the key store resolver
// and the signing manager together. A Session replaces process wide
// signing state: callers create one and pass it around.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/logging"
	"github.com/jeremyhahn/go-jsign/pkg/resolver"
	"github.com/jeremyhahn/go-jsign/pkg/signing"
	"github.com/jeremyhahn/go-jsign/pkg/storage/memory"
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

// ConfigStore loads and persists the key store configuration.
// *config.Manager implements it.
type ConfigStore interface {
	Load() (*config.Configuration, error)
	Write(cfg *config.Configuration) error
	Clear() *config.Configuration
}

// StoreTypeRestricter is implemented by configurators that can hide key
// store types from the user.
type StoreTypeRestricter interface {
	RestrictStoreTypes(allowed []types.StoreType)
}

// Options wires a Session.
type Options struct {
	// ConfigStore defaults to an in-memory store.
	ConfigStore ConfigStore

	Factory      resolver.Factory
	Discoverer   resolver.Discoverer
	Selector     resolver.Selector
	NotFound     resolver.NotFoundPrompt
	Configurator resolver.Configurator
	Drivers      resolver.DriverCatalog

	// Reporter receives per-message progress; may be nil.
	Reporter *signing.Reporter

	Logger *logging.Logger

	AllowCoSigning bool
	AllowPKCS12    bool

	// MaxRetries bounds "retry" answers to the certificate not found prompt.
	MaxRetries int

	// OnPersistenceError is called when a selection could not be saved.
	OnPersistenceError func(*resolver.PersistenceError)
}

// Session is one signing context.
type Session struct {
	mu       sync.Mutex
	store    ConfigStore
	resolver *resolver.Resolver
	signer   *signing.Manager
	reporter *signing.Reporter
	logger   *logging.Logger
	guard    *guardedConfigurator

	allowCoSigning bool
	closed         bool
}

// New loads the persisted configuration and wires a resolver and signing
// manager around it. A configuration that cannot be loaded is logged and
// replaced by an empty one.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	if opts.ConfigStore == nil {
		opts.ConfigStore = config.NewManager(memory.New(), config.WithLogger(opts.Logger))
	}

	cfg, err := opts.ConfigStore.Load()
	if err != nil {
		if !errors.Is(err, config.ErrNoConfiguration) {
			opts.Logger.Warnf("session: ignoring configuration: %v", err)
		}
		cfg = &config.Configuration{}
	}

	s := &Session{
		store:          opts.ConfigStore,
		signer:         signing.NewManager(signing.WithLogger(opts.Logger)),
		reporter:       opts.Reporter,
		logger:         opts.Logger,
		allowCoSigning: opts.AllowCoSigning,
	}

	var configurator resolver.Configurator
	if opts.Configurator != nil {
		s.guard = &guardedConfigurator{inner: opts.Configurator, logger: opts.Logger}
		s.guard.setAllowPKCS12(opts.AllowPKCS12)
		configurator = s.guard
	}

	s.resolver = resolver.New(resolver.Options{
		Configuration:      cfg,
		Store:              opts.ConfigStore,
		Factory:            opts.Factory,
		Discoverer:         opts.Discoverer,
		Selector:           opts.Selector,
		NotFound:           opts.NotFound,
		Configurator:       configurator,
		Drivers:            opts.Drivers,
		Logger:             opts.Logger,
		MaxRetries:         opts.MaxRetries,
		OnPersistenceError: opts.OnPersistenceError,
	})
	return s
}

// InitKeyStore resolves the active key store helper if there is none yet.
func (s *Session) InitKeyStore(ctx context.Context) (backend.Helper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.resolver.Resolve(ctx)
}

// ResetKeyStore closes the active helper. The next signature resolves a
// new one. A batch in progress keeps its helper until it finishes.
func (s *Session) ResetKeyStore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.resolver.Reset()
}

// Helper returns the active helper, or nil.
func (s *Session) Helper() backend.Helper {
	return s.resolver.Current()
}

// State returns the resolver state.
func (s *Session) State() resolver.State {
	return s.resolver.State()
}

// SignMessages signs a batch with the active helper, resolving one first
// if needed. Batches of one session never run concurrently.
func (s *Session) SignMessages(ctx context.Context, messages []signing.MessageToSign,
	attached bool) ([]*signing.SignedMessage, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	h, err := s.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return s.signer.SignMessages(ctx, h, messages, signing.Options{
		Attached:       attached,
		AllowCoSigning: s.allowCoSigning,
	}, s.reporter)
}

// SignMessage signs a single message.
func (s *Session) SignMessage(ctx context.Context, msg signing.MessageToSign, attached bool) (*signing.SignedMessage, error) {
	out, err := s.SignMessages(ctx, []signing.MessageToSign{msg}, attached)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SignFile reads path and signs its content.
func (s *Session) SignFile(ctx context.Context, path string, attached bool) (*signing.SignedMessage, error) {
	if path == "" {
		return nil, ErrNoFile
	}
	data, err := os.ReadFile(path) // #nosec G304 - the caller chooses what to sign
	if err != nil {
		return nil, fmt.Errorf("session: failed to read %s: %w", path, err)
	}
	return s.SignMessage(ctx, signing.MessageToSign{Name: path, Data: data}, attached)
}

// ShowConfiguration runs the manual configuration flow. A confirmed helper
// becomes the active one and is persisted.
func (s *Session) ShowConfiguration(ctx context.Context) (backend.Helper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.guard == nil {
		return nil, &resolver.NoCertificateError{State: resolver.StateManualConfiguration}
	}

	h, outcome, err := s.guard.Configure(ctx, s.resolver.Configuration())
	if err != nil {
		if h != nil {
			s.logger.MaybeError(h.Close())
		}
		return nil, err
	}
	if outcome != resolver.OutcomeConfirmed || h == nil {
		if h != nil {
			s.logger.MaybeError(h.Close())
		}
		return nil, &resolver.NoCertificateError{State: resolver.StateManualConfiguration}
	}
	s.resolver.Use(h)
	return h, nil
}

// Configuration returns a copy of the current configuration.
func (s *Session) Configuration() *config.Configuration {
	return s.resolver.Configuration()
}

// WriteConfiguration persists cfg and makes it the configuration used by
// the next resolution. The active helper is dropped.
func (s *Session) WriteConfiguration(cfg *config.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.store.Write(cfg); err != nil {
		return err
	}
	s.resolver.Reset()
	s.resolver.SetConfiguration(cfg)
	return nil
}

// ClearConfiguration removes the persisted configuration and drops the
// active helper. A closed session is left untouched.
func (s *Session) ClearConfiguration() *config.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.resolver.Configuration()
	}
	cfg := s.store.Clear()
	s.resolver.Reset()
	s.resolver.SetConfiguration(cfg)
	return cfg.Clone()
}

// SetAllowCoSigning controls whether inputs that already are signatures
// get an additional signer.
func (s *Session) SetAllowCoSigning(allow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowCoSigning = allow
}

// SetAllowPKCS12 controls whether the manual configuration flow may pick
// PKCS#12 key stores.
func (s *Session) SetAllowPKCS12(allow bool) {
	if s.guard != nil {
		s.guard.setAllowPKCS12(allow)
	}
}

// Close closes the active helper. The session cannot sign afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.resolver.Close()
}
