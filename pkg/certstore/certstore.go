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

// Package certstore queries the operating system's personal certificate
// store for signing identities.
//
// Only the query surface needed to sign is provided: list identities,
// read their certificates, and sign through their private keys. On
// Windows the "MY" store is read through CryptoAPI and keys are used
// through CNG; other platforms report ErrUnsupportedPlatform.
package certstore

import (
	"context"
	"crypto"
	"crypto/sha1" // #nosec G505 - certificate thumbprints are SHA-1 by convention
	"crypto/x509"
	"encoding/hex"
	"strings"
	"sync"
)

// DefaultStoreName is the personal certificate store.
const DefaultStoreName = "MY"

// Identity is a X.509 certificate and its corresponding private key.
type Identity interface {
	// Certificate returns the identity's certificate.
	Certificate() (*x509.Certificate, error)

	// Chain returns the certificate chain, leaf first.
	Chain() ([]*x509.Certificate, error)

	// HasPrivateKey reports whether the store links a private key to the
	// certificate, without acquiring it.
	HasPrivateKey() bool

	// Signer returns a crypto.Signer that uses the identity's private key.
	Signer() (crypto.Signer, error)

	// Close releases any OS handles held by the identity.
	Close()
}

// Store lists identities.
type Store interface {
	Identities(ctx context.Context) ([]Identity, error)
	Close() error
}

// Config selects the system store to open.
type Config struct {
	// StoreName is the system store name; defaults to DefaultStoreName.
	StoreName string `yaml:"store" json:"store" mapstructure:"store"`
}

// Open opens the configured system store.
func Open(cfg *Config) (Store, error) {
	name := DefaultStoreName
	if cfg != nil && cfg.StoreName != "" {
		name = cfg.StoreName
	}
	return openSystemStore(name)
}

// Thumbprint returns the upper-case hex SHA-1 of the certificate, the form
// Windows shows in certificate dialogs.
func Thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw) // #nosec G401
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// NormalizeThumbprint strips separators and the left-to-right mark that
// certificate dialogs prepend on copy, then upper-cases t.
func NormalizeThumbprint(t string) string {
	t = strings.NewReplacer(" ", "", ":", "", "\u200e", "").Replace(t)
	return strings.ToUpper(t)
}

// StaticIdentity is an in-memory identity.
type StaticIdentity struct {
	Cert   *x509.Certificate
	Certs  []*x509.Certificate
	Key    crypto.Signer
	closed bool
}

func (s *StaticIdentity) Certificate() (*x509.Certificate, error) {
	return s.Cert, nil
}

func (s *StaticIdentity) Chain() ([]*x509.Certificate, error) {
	if len(s.Certs) == 0 {
		return []*x509.Certificate{s.Cert}, nil
	}
	return s.Certs, nil
}

func (s *StaticIdentity) HasPrivateKey() bool {
	return s.Key != nil
}

func (s *StaticIdentity) Signer() (crypto.Signer, error) {
	if s.Key == nil {
		return nil, ErrNoPrivateKey
	}
	return s.Key, nil
}

func (s *StaticIdentity) Close() {
	s.closed = true
}

// Closed reports whether Close has been called.
func (s *StaticIdentity) Closed() bool {
	return s.closed
}

// MemoryStore is a Store over a fixed set of identities.
type MemoryStore struct {
	mu         sync.Mutex
	identities []Identity
	closed     bool
}

// NewMemoryStore creates a store listing identities.
func NewMemoryStore(identities ...Identity) *MemoryStore {
	return &MemoryStore{identities: identities}
}

func (m *MemoryStore) Identities(ctx context.Context) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Identity, len(m.identities))
	copy(out, m.identities)
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
