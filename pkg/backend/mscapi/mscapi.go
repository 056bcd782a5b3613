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

// Package mscapi signs with certificates from the Windows personal
// certificate store.
//
// Each helper wraps exactly one certstore.Identity; the store is walked by
// Available and Open.
package mscapi

import (
	"context"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/certstore"
	"github.com/jeremyhahn/go-jsign/pkg/logging"
)

// Helper signs with a single store identity.
type Helper struct {
	*backend.Base
	thumbprint string
}

var (
	_ backend.Helper    = (*Helper)(nil)
	_ backend.Describer = (*Helper)(nil)
)

// NewHelper acquires the identity's key. The identity is closed with the
// helper.
func NewHelper(id certstore.Identity) (*Helper, error) {
	if id == nil {
		return nil, ErrNoIdentity
	}
	cert, err := id.Certificate()
	if err != nil {
		return nil, fmt.Errorf("mscapi: failed to read certificate: %w", err)
	}
	chain, err := id.Chain()
	if err != nil {
		return nil, fmt.Errorf("mscapi: failed to read chain: %w", err)
	}
	signer, err := id.Signer()
	if err != nil {
		return nil, err
	}

	entry := backend.CertificateEntry{
		Alias:       backend.DefaultAlias(cert),
		Certificate: cert,
		Chain:       chain,
	}
	closeFn := func() error {
		id.Close()
		return nil
	}
	base, err := backend.NewBase(backend.StoreMSCAPI, []backend.CertificateEntry{entry}, entry, signer, closeFn)
	if err != nil {
		return nil, err
	}
	return &Helper{Base: base, thumbprint: certstore.Thumbprint(cert)}, nil
}

// Thumbprint returns the SHA-1 thumbprint of the certificate.
func (h *Helper) Thumbprint() string {
	return h.thumbprint
}

// Describe returns what is needed to find this certificate again.
func (h *Helper) Describe() backend.Descriptor {
	return backend.Descriptor{
		Type:       backend.StoreMSCAPI,
		Thumbprint: h.thumbprint,
		Alias:      h.Alias(),
	}
}

// Available opens one helper per identity that is currently valid for
// signing and has a private key. Identities that are skipped are closed.
func Available(ctx context.Context, store certstore.Store) ([]backend.Helper, error) {
	logger := logging.DefaultLogger()

	ids, err := store.Identities(ctx)
	if err != nil {
		return nil, err
	}

	var helpers []backend.Helper
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			closeIdentities(ids[i:])
			return helpers, err
		}
		cert, err := id.Certificate()
		if err != nil || !usableForSigning(cert) || !id.HasPrivateKey() {
			id.Close()
			continue
		}
		h, err := NewHelper(id)
		if err != nil {
			logger.Warnf("mscapi: certificate %q unusable: %v", cert.Subject.CommonName, err)
			id.Close()
			continue
		}
		helpers = append(helpers, h)
	}
	return helpers, nil
}

// Open finds the identity matching thumbprint, or alias when thumbprint is
// empty, and opens a helper for it.
func Open(ctx context.Context, store certstore.Store, thumbprint, alias string) (*Helper, error) {
	thumbprint = certstore.NormalizeThumbprint(thumbprint)
	if thumbprint == "" && strings.TrimSpace(alias) == "" {
		return nil, ErrNoSelector
	}

	ids, err := store.Identities(ctx)
	if err != nil {
		return nil, err
	}

	for i, id := range ids {
		cert, err := id.Certificate()
		if err != nil || !matches(cert, thumbprint, alias) {
			id.Close()
			continue
		}
		closeIdentities(ids[i+1:])
		h, err := NewHelper(id)
		if err != nil {
			id.Close()
			return nil, err
		}
		return h, nil
	}

	what := thumbprint
	if what == "" {
		what = alias
	}
	return nil, fmt.Errorf("%w: %s", backend.ErrCertificateNotFound, what)
}

func matches(cert *x509.Certificate, thumbprint, alias string) bool {
	if thumbprint != "" {
		return certstore.Thumbprint(cert) == thumbprint
	}
	return strings.EqualFold(backend.DefaultAlias(cert), strings.TrimSpace(alias))
}

// usableForSigning rejects certificates whose key usage excludes digital
// signatures. Validity dates are left to the verifier.
func usableForSigning(cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	if cert.KeyUsage == 0 {
		return true
	}
	return cert.KeyUsage&(x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment) != 0
}

func closeIdentities(ids []certstore.Identity) {
	for _, id := range ids {
		id.Close()
	}
}
