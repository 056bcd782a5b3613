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

// Package backend defines the key store helper contract shared by the
// PKCS#11, Windows certificate store and PKCS#12 implementations.
//
// A Helper exposes one selected certificate (plus its chain) and a signer
// bound to the matching private key. The signing workflow only ever talks
// to this interface; it never learns which kind of store is underneath.
package backend

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"strings"
	"sync"
)

// CertificateEntry is one certificate/key pair found in a key store.
type CertificateEntry struct {
	// Alias identifies the entry inside its store.
	Alias string

	// Certificate is the signer certificate.
	Certificate *x509.Certificate

	// Chain is the certificate followed by any intermediates, leaf first.
	Chain []*x509.Certificate
}

// Helper is the capability set every key store variant offers.
type Helper interface {
	// Type returns which kind of store backs this helper.
	Type() StoreType

	// Alias returns the alias of the selected certificate entry.
	Alias() string

	// Certificate returns the selected signer certificate.
	Certificate() *x509.Certificate

	// Chain returns the selected certificate chain, leaf first.
	Chain() []*x509.Certificate

	// ListAvailableCertificateEntries lists every usable entry in the store.
	ListAvailableCertificateEntries() ([]CertificateEntry, error)

	// Signer returns a serialized signer for the selected private key.
	Signer() crypto.Signer

	// Sign hashes data with SHA-256 and signs the digest with the selected key.
	Sign(data []byte) ([]byte, error)

	// Close releases the underlying store.
	Close() error
}

// Descriptor is the information needed to reopen a helper later.
type Descriptor struct {
	Type       StoreType
	Library    string
	Slot       *uint
	TokenLabel string
	PKCS12Path string
	Alias      string
	Thumbprint string
}

// Describer is implemented by helpers that can be persisted to the signer
// configuration.
type Describer interface {
	Describe() Descriptor
}

// Base implements Helper on top of an already selected entry and signer.
// Store variants embed it and add their own Describe.
type Base struct {
	storeType StoreType
	entries   []CertificateEntry
	selected  CertificateEntry
	signer    *SerializedSigner

	closeFn   func() error
	closeOnce sync.Once
	closeErr  error
}

// NewBase creates a Base. closeFn may be nil.
func NewBase(storeType StoreType, entries []CertificateEntry, selected CertificateEntry,
	signer crypto.Signer, closeFn func() error) (*Base, error) {

	if selected.Certificate == nil {
		return nil, ErrNoCertificates
	}
	s, err := NewSerializedSigner(signer)
	if err != nil {
		return nil, err
	}
	if len(selected.Chain) == 0 {
		selected.Chain = []*x509.Certificate{selected.Certificate}
	}
	return &Base{
		storeType: storeType,
		entries:   entries,
		selected:  selected,
		signer:    s,
		closeFn:   closeFn,
	}, nil
}

func (b *Base) Type() StoreType {
	return b.storeType
}

func (b *Base) Alias() string {
	return b.selected.Alias
}

func (b *Base) Certificate() *x509.Certificate {
	return b.selected.Certificate
}

// Chain returns a copy of the selected chain.
func (b *Base) Chain() []*x509.Certificate {
	out := make([]*x509.Certificate, len(b.selected.Chain))
	copy(out, b.selected.Chain)
	return out
}

func (b *Base) ListAvailableCertificateEntries() ([]CertificateEntry, error) {
	out := make([]CertificateEntry, len(b.entries))
	copy(out, b.entries)
	return out, nil
}

func (b *Base) Signer() crypto.Signer {
	return b.signer
}

func (b *Base) Sign(data []byte) ([]byte, error) {
	return SignData(b.signer, data)
}

// Close runs the store's close function once and disables the signer.
func (b *Base) Close() error {
	b.closeOnce.Do(func() {
		b.signer.close()
		if b.closeFn != nil {
			b.closeErr = b.closeFn()
		}
	})
	return b.closeErr
}

// SelectEntry picks the entry matching alias. Aliases compare exactly
// first, then case-insensitively against the alias and the certificate
// common name. An empty alias selects the first entry.
func SelectEntry(entries []CertificateEntry, alias string) (CertificateEntry, error) {
	if len(entries) == 0 {
		return CertificateEntry{}, ErrNoCertificates
	}
	if alias == "" {
		return entries[0], nil
	}
	for _, e := range entries {
		if e.Alias == alias {
			return e, nil
		}
	}
	for _, e := range entries {
		if strings.EqualFold(e.Alias, alias) ||
			(e.Certificate != nil && strings.EqualFold(e.Certificate.Subject.CommonName, alias)) {
			return e, nil
		}
	}
	return CertificateEntry{}, fmt.Errorf("%w: %s", ErrCertificateNotFound, alias)
}

// DefaultAlias names an entry after its certificate's common name, falling
// back to the serial number.
func DefaultAlias(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	if cn := strings.TrimSpace(cert.Subject.CommonName); cn != "" {
		return cn
	}
	return cert.SerialNumber.Text(16)
}
