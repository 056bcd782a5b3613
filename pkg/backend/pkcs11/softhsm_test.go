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

package pkcs11

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ThalesGroup/crypto11"
	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-jsign/internal/testutil"
	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/logging"
	p11 "github.com/jeremyhahn/go-jsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

const (
	softHSMSOPIN   = "12345678"
	softHSMUserPIN = "1234"
)

// getSoftHSMLibrary returns the first SoftHSM2 module found on this host.
func getSoftHSMLibrary(t *testing.T) string {
	t.Helper()
	paths := []string{
		"/usr/lib/softhsm/libsofthsm2.so",
		"/usr/lib/x86_64-linux-gnu/softhsm/libsofthsm2.so",
		"/usr/local/lib/softhsm/libsofthsm2.so",
		"/opt/homebrew/lib/softhsm/libsofthsm2.so", // macOS with Homebrew
		"/usr/lib64/pkcs11/libsofthsm2.so",         // RHEL/CentOS
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// setupSoftHSM points SoftHSM2 at an empty token directory and initializes
// one token per label. It returns the slot each label ended up in.
func setupSoftHSM(t *testing.T, library string, labels ...string) map[string]uint {
	t.Helper()

	dir := t.TempDir()
	tokens := filepath.Join(dir, "tokens")
	require.NoError(t, os.Mkdir(tokens, 0700))
	conf := filepath.Join(dir, "softhsm2.conf")
	require.NoError(t, os.WriteFile(conf, []byte(fmt.Sprintf(
		"directories.tokendir = %s\nobjectstore.backend = file\nlog.level = ERROR\n", tokens)), 0600))
	t.Setenv("SOFTHSM2_CONF", conf)

	ctx := pkcs11.New(library)
	require.NotNil(t, ctx)
	require.NoError(t, ctx.Initialize())
	defer func() {
		_ = ctx.Finalize()
		ctx.Destroy()
	}()

	slots := make(map[string]uint, len(labels))
	for _, label := range labels {
		free, ok := freeSlot(t, ctx)
		require.True(t, ok, "no uninitialized SoftHSM slot left")
		require.NoError(t, ctx.InitToken(free, softHSMSOPIN, label))

		slot, ok := slotByLabel(t, ctx, label)
		require.True(t, ok, "token %q not found after init", label)

		session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		require.NoError(t, err)
		require.NoError(t, ctx.Login(session, pkcs11.CKU_SO, softHSMSOPIN))
		require.NoError(t, ctx.InitPIN(session, softHSMUserPIN))
		_ = ctx.Logout(session)
		_ = ctx.CloseSession(session)

		slots[label] = slot
	}
	return slots
}

func freeSlot(t *testing.T, ctx *pkcs11.Ctx) (uint, bool) {
	t.Helper()
	ids, err := ctx.GetSlotList(true)
	require.NoError(t, err)
	for _, id := range ids {
		info, err := ctx.GetTokenInfo(id)
		require.NoError(t, err)
		if info.Flags&pkcs11.CKF_TOKEN_INITIALIZED == 0 {
			return id, true
		}
	}
	return 0, false
}

func slotByLabel(t *testing.T, ctx *pkcs11.Ctx, label string) (uint, bool) {
	t.Helper()
	ids, err := ctx.GetSlotList(true)
	require.NoError(t, err)
	for _, id := range ids {
		info, err := ctx.GetTokenInfo(id)
		require.NoError(t, err)
		if strings.TrimRight(info.Label, " \x00") == label {
			return id, true
		}
	}
	return 0, false
}

// provisionIdentities generates one ECDSA key per common name on the token
// and stores a certificate for it issued by ca.
func provisionIdentities(t *testing.T, library, label string, ca *testutil.TestCA, commonNames ...string) {
	t.Helper()

	ctx, err := crypto11.Configure(&crypto11.Config{Path: library, TokenLabel: label, Pin: softHSMUserPIN})
	require.NoError(t, err)
	defer func() { require.NoError(t, ctx.Close()) }()

	for i, cn := range commonNames {
		id := []byte(fmt.Sprintf("%s-%d", label, i))
		signer, err := ctx.GenerateECDSAKeyPairWithLabel(id, []byte(cn), elliptic.P256())
		require.NoError(t, err)
		require.NoError(t, ctx.ImportCertificateWithLabel(id, []byte(cn), issueCertificate(t, ca, cn, signer.Public())))
	}
}

func issueCertificate(t *testing.T, ca *testutil.TestCA, cn string, pub crypto.PublicKey) *x509.Certificate {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	require.NoError(t, err)

	notBefore := time.Now().Add(-time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, pub, ca.Key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func cachedRefs(library string, slot uint) int {
	contextCacheMu.Lock()
	defer contextCacheMu.Unlock()
	if ref, ok := contextCache[contextCacheKey(library, slot)]; ok {
		return ref.refCount
	}
	return 0
}

func assertSigns(t *testing.T, h backend.Helper) {
	t.Helper()
	data := []byte("document to sign")
	sig, err := h.Sign(data)
	require.NoError(t, err)

	pub, ok := h.Certificate().PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok)
	digest := sha256.Sum256(data)
	assert.True(t, ecdsa.VerifyASN1(pub, digest[:], sig), "signature from %q does not verify", h.Alias())
}

func TestNewHelper_SoftHSMTokensShareModule(t *testing.T) {
	library := getSoftHSMLibrary(t)
	if library == "" {
		t.Skip("SoftHSM2 library not found, skipping test")
	}

	slots := setupSoftHSM(t, library, "jsign-a", "jsign-b")
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	provisionIdentities(t, library, "jsign-a", ca, "Alice", "Alice")
	provisionIdentities(t, library, "jsign-b", ca, "Bob")

	open := func(label string) *Helper {
		slot := slots[label]
		h, err := NewHelper(&Config{
			Library:    library,
			Slot:       &slot,
			TokenLabel: label,
			PIN:        types.NewPasswordFromString(softHSMUserPIN),
		})
		require.NoError(t, err)
		return h
	}

	alice := open("jsign-a")
	bob := open("jsign-b")
	t.Cleanup(func() { _ = bob.Close() })

	assert.Equal(t, 1, cachedRefs(alice.library, alice.slot))
	assert.Equal(t, 1, cachedRefs(bob.library, bob.slot))

	entries, err := alice.ListAvailableCertificateEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].Alias, entries[1].Alias, "same common name on one token gets distinct aliases")
	assert.Contains(t, []string{entries[0].Alias, entries[1].Alias}, "Alice")
	assert.Equal(t, "Bob", bob.Alias())

	desc := bob.Describe()
	require.NotNil(t, desc.Slot)
	assert.Equal(t, slots["jsign-b"], *desc.Slot)
	assert.Equal(t, "jsign-b", desc.TokenLabel)

	again := open("jsign-a")
	assert.Equal(t, 2, cachedRefs(alice.library, alice.slot), "second helper on a token reuses its context")
	require.NoError(t, again.Close())
	assert.Equal(t, 1, cachedRefs(alice.library, alice.slot))

	assertSigns(t, alice)
	assertSigns(t, bob)

	require.NoError(t, alice.Close())
	assert.Zero(t, cachedRefs(alice.library, alice.slot))

	// The module stays loaded for the token that is still open.
	assertSigns(t, bob)
}

func TestDiscoverer_SoftHSM(t *testing.T) {
	library := getSoftHSMLibrary(t)
	if library == "" {
		t.Skip("SoftHSM2 library not found, skipping test")
	}

	slots := setupSoftHSM(t, library, "jsign-one", "jsign-two")
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	provisionIdentities(t, library, "jsign-one", ca, "One")
	provisionIdentities(t, library, "jsign-two", ca, "Two")

	var asked []string
	d := &Discoverer{
		Catalog: p11.NewCatalog(
			p11.WithDrivers(p11.Driver{Name: "SoftHSM", Library: library}),
			p11.WithCatalogLogger(logging.Discard()),
		),
		PIN: func(_ context.Context, _ p11.Driver, _ p11.SlotID, label string) (types.Password, error) {
			asked = append(asked, label)
			return types.NewPasswordFromString(softHSMUserPIN), nil
		},
		Logger: logging.Discard(),
	}

	helpers, err := d.Available(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, h := range helpers {
			_ = h.Close()
		}
	})

	assert.Contains(t, asked, "jsign-one")
	assert.Contains(t, asked, "jsign-two")

	// The spare uninitialized SoftHSM slot is offered but cannot open.
	require.Len(t, helpers, 2)
	aliases := make(map[string]uint)
	for _, h := range helpers {
		desc := h.(backend.Describer).Describe()
		require.NotNil(t, desc.Slot)
		aliases[h.Alias()] = *desc.Slot
		assertSigns(t, h)
	}
	assert.Equal(t, map[string]uint{"One": slots["jsign-one"], "Two": slots["jsign-two"]}, aliases)
}
