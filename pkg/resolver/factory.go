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

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/backend/mscapi"
	bpkcs11 "github.com/jeremyhahn/go-jsign/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/backend/pkcs12"
	"github.com/jeremyhahn/go-jsign/pkg/certstore"
	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

// ErrUnsupportedStore is returned for configurations naming no known
// store type.
var ErrUnsupportedStore = errors.New("resolver: unsupported key store type")

// SecretFunc asks the user for a PIN or password. prompt names what is
// being unlocked.
type SecretFunc func(ctx context.Context, prompt string) (types.Password, error)

// StoreOpener opens the OS certificate store.
type StoreOpener func() (certstore.Store, error)

// DefaultFactory opens the three helper variants from a configuration.
type DefaultFactory struct {
	// Secret supplies token PINs and file passwords. Without it tokens
	// are opened without login and files without a password.
	Secret SecretFunc

	// OpenStore opens the OS certificate store; defaults to certstore.Open.
	OpenStore StoreOpener

	// PKCS11Options are passed to every module bind.
	PKCS11Options []pkcs11.Option
}

var _ Factory = (*DefaultFactory)(nil)

func (f *DefaultFactory) FromConfiguration(ctx context.Context, cfg *config.Configuration) (backend.Helper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", ErrUnsupportedStore)
	}
	switch cfg.KeyStoreType {
	case types.StorePKCS11:
		return f.openPKCS11(ctx, cfg)
	case types.StorePKCS12:
		return f.openPKCS12(ctx, cfg)
	case types.StoreMSCAPI:
		return f.openMSCAPI(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStore, cfg.KeyStoreType)
	}
}

func (f *DefaultFactory) openPKCS11(ctx context.Context, cfg *config.Configuration) (backend.Helper, error) {
	c := &bpkcs11.Config{
		Library:    cfg.Library,
		Slot:       cfg.Slot,
		TokenLabel: cfg.TokenLabel,
		Alias:      cfg.Alias,
	}
	if f.Secret == nil {
		c.LoginNotSupported = true
	} else {
		name := cfg.TokenLabel
		if name == "" && cfg.Slot != nil {
			name = fmt.Sprintf("slot %d", *cfg.Slot)
		}
		pin, err := f.Secret(ctx, fmt.Sprintf("PIN for token %s", name))
		if err != nil {
			return nil, err
		}
		c.PIN = pin
	}
	h, err := bpkcs11.NewHelper(c, f.PKCS11Options...)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// openPKCS12 tries without a password first so unencrypted bundles never
// prompt.
func (f *DefaultFactory) openPKCS12(ctx context.Context, cfg *config.Configuration) (backend.Helper, error) {
	h, err := pkcs12.Open(cfg.PKCS12Path, nil, cfg.Alias)
	if err == nil {
		return h, nil
	}
	if f.Secret == nil || !(errors.Is(err, pkcs12.ErrPasswordRequired) || errors.Is(err, pkcs12.ErrIncorrectPassword)) {
		return nil, err
	}
	pw, err := f.Secret(ctx, fmt.Sprintf("Password for %s", cfg.PKCS12Path))
	if err != nil {
		return nil, err
	}
	defer pw.Clear()
	h, err = pkcs12.Open(cfg.PKCS12Path, pw, cfg.Alias)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (f *DefaultFactory) openMSCAPI(ctx context.Context, cfg *config.Configuration) (backend.Helper, error) {
	store, err := f.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	h, err := mscapi.Open(ctx, store, cfg.Thumbprint, cfg.Alias)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (f *DefaultFactory) openStore() (certstore.Store, error) {
	if f.OpenStore != nil {
		return f.OpenStore()
	}
	return certstore.Open(nil)
}

// StoreDiscoverer lists the OS certificate store identities as candidates.
// On platforms without a store it finds nothing.
type StoreDiscoverer struct {
	OpenStore StoreOpener
}

func (d *StoreDiscoverer) Available(ctx context.Context) ([]backend.Helper, error) {
	open := d.OpenStore
	if open == nil {
		open = func() (certstore.Store, error) { return certstore.Open(nil) }
	}
	store, err := open()
	if errors.Is(err, certstore.ErrUnsupportedPlatform) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return mscapi.Available(ctx, store)
}

// MultiDiscoverer concatenates the candidates of several discoverers in
// order. A failing discoverer is skipped; its error is returned only when
// every discoverer failed.
type MultiDiscoverer []Discoverer

func (m MultiDiscoverer) Available(ctx context.Context) ([]backend.Helper, error) {
	var (
		out  []backend.Helper
		errs []error
	)
	for _, d := range m {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		helpers, err := d.Available(ctx)
		out = append(out, helpers...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m) && len(errs) > 0 {
		return out, errors.Join(errs...)
	}
	return out, nil
}
