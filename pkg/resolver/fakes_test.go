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
	"crypto/x509"
	"sync"
	"testing"

	"github.com/jeremyhahn/go-jsign/internal/testutil"
	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeHelper is a backend.Helper over a generated certificate that records
// Close calls.
type fakeHelper struct {
	*backend.Base
	desc   backend.Descriptor
	mu     sync.Mutex
	closed int
}

func (h *fakeHelper) Describe() backend.Descriptor {
	return h.desc
}

func (h *fakeHelper) Close() error {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
	return h.Base.Close()
}

func (h *fakeHelper) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

var (
	fixtureOnce sync.Once
	fixtureCA   *testutil.TestCA
	fixtureErr  error
)

func newFakeHelper(t *testing.T, st types.StoreType, cn string) *fakeHelper {
	t.Helper()
	fixtureOnce.Do(func() {
		fixtureCA, fixtureErr = testutil.GenerateTestCA()
	})
	require.NoError(t, fixtureErr)

	leaf, err := testutil.GenerateSigningCert(fixtureCA, cn, testutil.ECDSA)
	require.NoError(t, err)
	entry := backend.CertificateEntry{Alias: cn, Certificate: leaf.Cert, Chain: []*x509.Certificate{leaf.Cert, fixtureCA.Cert}}
	base, err := backend.NewBase(st, []backend.CertificateEntry{entry}, entry, leaf.Key, nil)
	require.NoError(t, err)

	desc := backend.Descriptor{Type: st, Alias: cn}
	switch st {
	case types.StorePKCS12:
		desc.PKCS12Path = "/tmp/" + cn + ".p12"
	case types.StoreMSCAPI:
		desc.Thumbprint = "THUMB-" + cn
	case types.StorePKCS11:
		slot := uint(0)
		desc.Library = "/usr/lib/fake-pkcs11.so"
		desc.Slot = &slot
	}
	return &fakeHelper{Base: base, desc: desc}
}

type fakeFactory struct {
	helper backend.Helper
	err    error
	calls  int
	seen   *config.Configuration
}

func (f *fakeFactory) FromConfiguration(_ context.Context, cfg *config.Configuration) (backend.Helper, error) {
	f.calls++
	f.seen = cfg
	return f.helper, f.err
}

// fakeDiscoverer returns rounds[i] on the i-th call and the last round
// afterwards.
type fakeDiscoverer struct {
	rounds [][]backend.Helper
	err    error
	calls  int
}

func (d *fakeDiscoverer) Available(context.Context) ([]backend.Helper, error) {
	d.calls++
	if len(d.rounds) == 0 {
		return nil, d.err
	}
	i := d.calls - 1
	if i >= len(d.rounds) {
		i = len(d.rounds) - 1
	}
	return d.rounds[i], d.err
}

type fakeSelector struct {
	pick    int
	outcome Outcome
	err     error
	calls   int
	seen    []backend.Helper
}

func (s *fakeSelector) Select(_ context.Context, candidates []backend.Helper) (backend.Helper, Outcome, error) {
	s.calls++
	s.seen = candidates
	if s.outcome != OutcomeConfirmed || s.pick < 0 {
		return nil, s.outcome, s.err
	}
	return candidates[s.pick], s.outcome, s.err
}

type fakeNotFound struct {
	outcomes []Outcome
	err      error
	calls    int
	drivers  []pkcs11.Driver
}

func (n *fakeNotFound) CertificateNotFound(_ context.Context, drivers []pkcs11.Driver) (Outcome, error) {
	n.calls++
	n.drivers = drivers
	if n.err != nil {
		return OutcomeCancel, n.err
	}
	i := n.calls - 1
	if i >= len(n.outcomes) {
		i = len(n.outcomes) - 1
	}
	return n.outcomes[i], nil
}

type fakeConfigurator struct {
	helper  backend.Helper
	outcome Outcome
	err     error
	calls   int
	seen    *config.Configuration
}

func (c *fakeConfigurator) Configure(_ context.Context, current *config.Configuration) (backend.Helper, Outcome, error) {
	c.calls++
	c.seen = current
	return c.helper, c.outcome, c.err
}

type fakeWriter struct {
	err     error
	written []*config.Configuration
}

func (w *fakeWriter) Write(cfg *config.Configuration) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, cfg.Clone())
	return nil
}

type fakeCatalog struct {
	drivers []pkcs11.Driver
}

func (c *fakeCatalog) Installed(context.Context) []pkcs11.Driver {
	return c.drivers
}
