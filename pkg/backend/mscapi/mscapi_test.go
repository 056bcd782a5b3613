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

package mscapi

import (
	"context"
	"crypto/x509"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-jsign/internal/testutil"
	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/certstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ca    *testutil.TestCA
	alice *testutil.TestCertificate
	bob   *testutil.TestCertificate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	alice, err := testutil.GenerateSigningCert(ca, "Alice", testutil.ECDSA)
	require.NoError(t, err)
	bob, err := testutil.GenerateSigningCert(ca, "Bob", testutil.RSA)
	require.NoError(t, err)
	return &fixture{ca: ca, alice: alice, bob: bob}
}

func identity(c *testutil.TestCertificate) *certstore.StaticIdentity {
	return &certstore.StaticIdentity{Cert: c.Cert, Certs: c.Chain, Key: c.Key}
}

func TestNewHelper(t *testing.T) {
	f := newFixture(t)
	id := identity(f.alice)

	h, err := NewHelper(id)
	require.NoError(t, err)

	assert.Equal(t, backend.StoreMSCAPI, h.Type())
	assert.Equal(t, "Alice", h.Alias())
	assert.Equal(t, f.alice.Cert, h.Certificate())
	assert.Len(t, h.Chain(), 2)
	assert.Equal(t, certstore.Thumbprint(f.alice.Cert), h.Thumbprint())

	entries, err := h.ListAvailableCertificateEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	desc := h.Describe()
	assert.Equal(t, backend.StoreMSCAPI, desc.Type)
	assert.Equal(t, h.Thumbprint(), desc.Thumbprint)
	assert.Equal(t, "Alice", desc.Alias)

	sig, err := h.Sign([]byte("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	require.NoError(t, h.Close())
	assert.True(t, id.Closed(), "closing the helper closes the identity")
}

func TestNewHelper_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := NewHelper(nil)
	assert.ErrorIs(t, err, ErrNoIdentity)

	_, err = NewHelper(&certstore.StaticIdentity{Cert: f.alice.Cert})
	assert.ErrorIs(t, err, certstore.ErrNoPrivateKey)
}

func TestAvailable(t *testing.T) {
	f := newFixture(t)

	caOnly := *f.ca.Cert
	caOnly.KeyUsage = x509.KeyUsageCertSign
	noUsage := &certstore.StaticIdentity{Cert: &caOnly, Key: f.ca.Key}
	noKey := &certstore.StaticIdentity{Cert: f.bob.Cert}

	store := certstore.NewMemoryStore(identity(f.alice), noKey, noUsage, identity(f.bob))
	helpers, err := Available(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, helpers, 2)
	assert.Equal(t, "Alice", helpers[0].Alias())
	assert.Equal(t, "Bob", helpers[1].Alias())

	assert.True(t, noKey.Closed(), "skipped identities are closed")
	assert.True(t, noUsage.Closed())
}

func TestAvailable_Cancelled(t *testing.T) {
	f := newFixture(t)
	store := certstore.NewMemoryStore(identity(f.alice))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Available(ctx, store)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		thumbprint string
		alias      string
		wantAlias  string
		wantErr    error
	}{
		{name: "by thumbprint", thumbprint: certstore.Thumbprint(f.bob.Cert), wantAlias: "Bob"},
		{name: "by lower-case thumbprint", thumbprint: strings.ToLower(certstore.Thumbprint(f.alice.Cert)), wantAlias: "Alice"},
		{name: "by alias", alias: "alice", wantAlias: "Alice"},
		{name: "thumbprint wins over alias", thumbprint: certstore.Thumbprint(f.bob.Cert), alias: "Alice", wantAlias: "Bob"},
		{name: "unknown alias", alias: "Carol", wantErr: backend.ErrCertificateNotFound},
		{name: "no selector", wantErr: ErrNoSelector},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := certstore.NewMemoryStore(identity(f.alice), identity(f.bob))
			h, err := Open(context.Background(), store, tt.thumbprint, tt.alias)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, h)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlias, h.Alias())
			require.NoError(t, h.Close())
		})
	}
}
