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

// Package pkcs12 opens signing identities from PKCS#12 (.p12/.pfx) files
// and PEM bundles holding a certificate chain plus a PKCS#8 private key,
// optionally password encrypted.
package pkcs12

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
)

// Helper is a key store helper over a single file.
type Helper struct {
	*backend.Base
	path string
}

var (
	_ backend.Helper    = (*Helper)(nil)
	_ backend.Describer = (*Helper)(nil)
)

// Open reads the store at path and selects the entry named alias (the
// first one when alias is empty). password may be nil for unencrypted PEM
// bundles; it is not retained.
func Open(path string, password backend.Password, alias string) (*Helper, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	data, err := os.ReadFile(abs) // #nosec G304 - path is chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("pkcs12: failed to read %s: %w", abs, err)
	}

	var pw []byte
	if password != nil {
		pw = password.Bytes()
		defer zero(pw)
	}

	var (
		key     crypto.Signer
		entries []backend.CertificateEntry
	)
	if isPEM(data) {
		key, entries, err = decodePEMBundle(data, pw)
	} else {
		key, entries, err = decodePFX(data, pw)
	}
	if err != nil {
		return nil, err
	}

	selected, err := backend.SelectEntry(entries, alias)
	if err != nil {
		return nil, err
	}
	base, err := backend.NewBase(backend.StorePKCS12, entries, selected, key, nil)
	if err != nil {
		return nil, err
	}
	return &Helper{Base: base, path: abs}, nil
}

// Path returns the absolute store path.
func (h *Helper) Path() string {
	return h.path
}

// Describe returns what is needed to reopen this store.
func (h *Helper) Describe() backend.Descriptor {
	return backend.Descriptor{
		Type:       backend.StorePKCS12,
		PKCS12Path: h.path,
		Alias:      h.Alias(),
	}
}

func decodePFX(data, password []byte) (crypto.Signer, []backend.CertificateEntry, error) {
	priv, cert, caCerts, err := gopkcs12.DecodeChain(data, string(password))
	if err != nil {
		if errors.Is(err, gopkcs12.ErrIncorrectPassword) {
			return nil, nil, ErrIncorrectPassword
		}
		return nil, nil, fmt.Errorf("pkcs12: failed to decode store: %w", err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok || signer == nil {
		return nil, nil, ErrNoPrivateKey
	}
	entry := backend.CertificateEntry{
		Alias:       backend.DefaultAlias(cert),
		Certificate: cert,
		Chain:       append([]*x509.Certificate{cert}, caCerts...),
	}
	return signer, []backend.CertificateEntry{entry}, nil
}

func isPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN "))
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
