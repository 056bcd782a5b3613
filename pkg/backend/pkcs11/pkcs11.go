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

//go:build pkcs11

// Package pkcs11 opens a signing identity held on a PKCS#11 token.
//
// The token is located through the slot snapshot of pkg/pkcs11, then
// opened with crypto11, which pairs private keys with certificates by
// CKA_ID. Keys never leave the token.
//
// # Usage Example
//
//	h, err := pkcs11.NewHelper(&pkcs11.Config{
//		Library:    "/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so",
//		TokenLabel: "My eToken",
//		PIN:        types.NewPasswordFromString("1234"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer h.Close()
package pkcs11

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/logging"
	p11 "github.com/jeremyhahn/go-jsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/validation"
)

// contextRef tracks reference count for a cached context
type contextRef struct {
	ctx      *crypto11.Context
	refCount int
}

// contextCache stores crypto11 contexts keyed by library path and slot.
// crypto11 refuses to log into the same token twice in one process.
var (
	contextCache   = make(map[string]*contextRef)
	contextCacheMu sync.Mutex
)

// Helper signs with a certificate/key pair on a PKCS#11 token.
type Helper struct {
	*backend.Base
	library    string
	slot       uint
	tokenLabel string
}

var (
	_ backend.Helper    = (*Helper)(nil)
	_ backend.Describer = (*Helper)(nil)
)

// NewHelper logs into the configured token and selects the certificate
// named by cfg.Alias. The PIN is cleared once the login has completed.
func NewHelper(cfg *Config, opts ...p11.Option) (*Helper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.DefaultLogger()

	w, err := p11.Bind(cfg.Library, opts...)
	if err != nil {
		return nil, err
	}
	slot, label, err := locateToken(w, cfg)
	logger.MaybeError(w.Close())
	if err != nil {
		return nil, err
	}

	ctx, err := acquireContext(w.Library(), slot, cfg)
	if err != nil {
		return nil, err
	}
	release := func() error {
		return releaseContext(w.Library(), slot)
	}

	entries, signers, err := pairedEntries(ctx)
	if err != nil {
		_ = release()
		return nil, err
	}
	selected, err := backend.SelectEntry(entries, cfg.Alias)
	if err != nil {
		_ = release()
		return nil, err
	}

	base, err := backend.NewBase(backend.StorePKCS11, entries, selected, signers[selected.Alias], release)
	if err != nil {
		_ = release()
		return nil, err
	}
	logger.Debugf("pkcs11: opened %s slot %d (%s), certificate %q", w.Library(), slot,
		validation.SanitizeForLog(label), validation.SanitizeForLog(selected.Alias))

	return &Helper{
		Base:       base,
		library:    w.Library(),
		slot:       slot,
		tokenLabel: label,
	}, nil
}

// Describe returns what is needed to reopen this token.
func (h *Helper) Describe() backend.Descriptor {
	slot := h.slot
	return backend.Descriptor{
		Type:       backend.StorePKCS11,
		Library:    h.library,
		Slot:       &slot,
		TokenLabel: h.tokenLabel,
		Alias:      h.Alias(),
	}
}

func contextCacheKey(library string, slot uint) string {
	return fmt.Sprintf("%s#%d", library, slot)
}

func acquireContext(library string, slot uint, cfg *Config) (*crypto11.Context, error) {
	key := contextCacheKey(library, slot)

	contextCacheMu.Lock()
	defer contextCacheMu.Unlock()

	if ref, ok := contextCache[key]; ok {
		ref.refCount++
		return ref.ctx, nil
	}

	slotNumber := int(slot)
	c11 := &crypto11.Config{
		Path:              library,
		SlotNumber:        &slotNumber,
		LoginNotSupported: cfg.LoginNotSupported,
	}
	if cfg.PIN != nil {
		c11.Pin = cfg.PIN.String()
		defer cfg.PIN.Clear()
	}

	ctx, err := crypto11.Configure(c11)
	if err != nil {
		return nil, fmt.Errorf("failed to configure PKCS#11 context: %w", err)
	}
	contextCache[key] = &contextRef{ctx: ctx, refCount: 1}
	return ctx, nil
}

func releaseContext(library string, slot uint) error {
	key := contextCacheKey(library, slot)

	contextCacheMu.Lock()
	defer contextCacheMu.Unlock()

	ref, ok := contextCache[key]
	if !ok {
		return nil
	}
	ref.refCount--
	if ref.refCount > 0 {
		return nil
	}
	delete(contextCache, key)
	return ref.ctx.Close()
}

// pairedEntries lists every certificate that has a matching private key on
// the token.
func pairedEntries(ctx *crypto11.Context) ([]backend.CertificateEntry, map[string]crypto.Signer, error) {
	pairs, err := ctx.FindAllPairedCertificates()
	if err != nil {
		return nil, nil, fmt.Errorf("pkcs11: failed to list certificates: %w", err)
	}

	var entries []backend.CertificateEntry
	signers := make(map[string]crypto.Signer, len(pairs))
	for _, pair := range pairs {
		signer, ok := pair.PrivateKey.(crypto.Signer)
		if !ok || len(pair.Certificate) == 0 {
			continue
		}
		leaf := pair.Leaf
		if leaf == nil {
			if leaf, err = x509.ParseCertificate(pair.Certificate[0]); err != nil {
				continue
			}
		}
		alias := backend.DefaultAlias(leaf)
		if _, dup := signers[alias]; dup {
			alias = fmt.Sprintf("%s (%s)", alias, leaf.SerialNumber.Text(16))
		}
		signers[alias] = signer
		entries = append(entries, backend.CertificateEntry{
			Alias:       alias,
			Certificate: leaf,
			Chain:       []*x509.Certificate{leaf},
		})
	}
	if len(entries) == 0 {
		return nil, nil, backend.ErrNoCertificates
	}
	return entries, signers, nil
}
