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

package pkcs12

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/jeremyhahn/go-jsign/internal/testutil"
	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

func newSigningCert(t *testing.T, cn string, alg testutil.KeyAlgorithm) *testutil.TestCertificate {
	t.Helper()
	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	c, err := testutil.GenerateSigningCert(ca, cn, alg)
	require.NoError(t, err)
	return c
}

func writePFX(t *testing.T, c *testutil.TestCertificate, password string) string {
	t.Helper()
	pfx, err := gopkcs12.Modern.Encode(c.Key, c.Cert, c.Chain[1:], password)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "identity.p12")
	require.NoError(t, os.WriteFile(path, pfx, 0600))
	return path
}

func TestOpen_PFX(t *testing.T) {
	for _, alg := range []testutil.KeyAlgorithm{testutil.ECDSA, testutil.RSA} {
		c := newSigningCert(t, "PFX Signer", alg)
		path := writePFX(t, c, "secret")

		h, err := Open(path, types.NewPasswordFromString("secret"), "")
		require.NoError(t, err)

		assert.Equal(t, backend.StorePKCS12, h.Type())
		assert.Equal(t, "PFX Signer", h.Alias())
		assert.True(t, c.Cert.Equal(h.Certificate()))
		require.Len(t, h.Chain(), 2)

		sig, err := h.Sign([]byte("content"))
		require.NoError(t, err)
		algo := x509.ECDSAWithSHA256
		if alg == testutil.RSA {
			algo = x509.SHA256WithRSA
		}
		require.NoError(t, h.Certificate().CheckSignature(algo, []byte("content"), sig))

		d := h.Describe()
		assert.Equal(t, backend.StorePKCS12, d.Type)
		assert.Equal(t, path, d.PKCS12Path)
		assert.Equal(t, "PFX Signer", d.Alias)
		require.NoError(t, h.Close())
	}
}

func TestOpen_PFXWrongPassword(t *testing.T) {
	path := writePFX(t, newSigningCert(t, "x", testutil.ECDSA), "secret")
	_, err := Open(path, types.NewPasswordFromString("wrong"), "")
	assert.ErrorIs(t, err, ErrIncorrectPassword)
}

func TestOpen_AliasNotFound(t *testing.T) {
	path := writePFX(t, newSigningCert(t, "Alice", testutil.ECDSA), "pw")
	_, err := Open(path, types.NewPasswordFromString("pw"), "Bob")
	assert.ErrorIs(t, err, backend.ErrCertificateNotFound)

	h, err := Open(path, types.NewPasswordFromString("pw"), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", h.Alias())
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open("", nil, "")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = Open(filepath.Join(t.TempDir(), "missing.p12"), nil, "")
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.p12")
	require.NoError(t, os.WriteFile(garbage, []byte{0x30, 0x03, 0x02, 0x01, 0x03}, 0600))
	_, err = Open(garbage, nil, "")
	assert.Error(t, err)
}

func pemBundle(t *testing.T, c *testutil.TestCertificate, password []byte, reorder bool) []byte {
	t.Helper()
	der, err := pkcs8.MarshalPrivateKey(c.Key, password, nil)
	require.NoError(t, err)
	keyType := "PRIVATE KEY"
	if password != nil {
		keyType = "ENCRYPTED PRIVATE KEY"
	}

	var buf bytes.Buffer
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Chain[1].Raw})
	if reorder {
		buf.Write(caPEM)
	}
	buf.Write(c.CertPEM)
	if !reorder {
		buf.Write(caPEM)
	}
	require.NoError(t, pem.Encode(&buf, &pem.Block{Type: keyType, Bytes: der}))
	return buf.Bytes()
}

func TestOpen_PEMBundle(t *testing.T) {
	c := newSigningCert(t, "PEM Signer", testutil.RSA)

	tests := []struct {
		name     string
		password []byte
		reorder  bool
	}{
		{name: "plain key", password: nil},
		{name: "encrypted key", password: []byte("hunter2")},
		{name: "CA listed first", password: nil, reorder: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bundle.pem")
			require.NoError(t, os.WriteFile(path, pemBundle(t, c, tt.password, tt.reorder), 0600))

			var pw backend.Password
			if tt.password != nil {
				pw = types.NewPassword(tt.password)
			}
			h, err := Open(path, pw, "")
			require.NoError(t, err)
			assert.True(t, c.Cert.Equal(h.Certificate()), "leaf is the certificate matching the key")
			chain := h.Chain()
			require.Len(t, chain, 2)
			assert.True(t, c.Chain[1].Equal(chain[1]))

			sig, err := h.Sign([]byte("pem"))
			require.NoError(t, err)
			require.NoError(t, h.Certificate().CheckSignature(x509.SHA256WithRSA, []byte("pem"), sig))
		})
	}
}

func TestOpen_PEMErrors(t *testing.T) {
	c := newSigningCert(t, "PEM Signer", testutil.ECDSA)
	other := newSigningCert(t, "Other", testutil.ECDSA)
	dir := t.TempDir()

	encrypted := filepath.Join(dir, "enc.pem")
	require.NoError(t, os.WriteFile(encrypted, pemBundle(t, c, []byte("pw"), false), 0600))
	_, err := Open(encrypted, nil, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)
	_, err = Open(encrypted, types.NewPasswordFromString("not-it"), "")
	assert.Error(t, err)

	certOnly := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(certOnly, c.CertPEM, 0600))
	_, err = Open(certOnly, nil, "")
	assert.ErrorIs(t, err, ErrNoPrivateKey)

	mismatch := filepath.Join(dir, "mismatch.pem")
	require.NoError(t, os.WriteFile(mismatch, append(append([]byte{}, other.CertPEM...), c.KeyPEM...), 0600))
	_, err = Open(mismatch, nil, "")
	assert.ErrorIs(t, err, ErrKeyMismatch)
}
