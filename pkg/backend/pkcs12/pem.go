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
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
)

// decodePEMBundle reads every CERTIFICATE block and the single private key
// block of a PEM bundle. The certificate whose public key matches the
// private key becomes the entry; the remaining certificates form its chain
// in file order.
func decodePEMBundle(data, password []byte) (crypto.Signer, []backend.CertificateEntry, error) {
	var (
		certs []*x509.Certificate
		key   crypto.Signer
	)
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("pkcs12: failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		case "PRIVATE KEY", "ENCRYPTED PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			if key != nil {
				return nil, nil, errors.New("pkcs12: PEM bundle holds more than one private key")
			}
			k, err := decodePrivateKey(block, password)
			if err != nil {
				return nil, nil, err
			}
			key = k
		}
	}
	if key == nil {
		return nil, nil, ErrNoPrivateKey
	}

	for i, cert := range certs {
		if !publicKeyMatches(cert, key) {
			continue
		}
		chain := []*x509.Certificate{cert}
		for j, other := range certs {
			if j != i {
				chain = append(chain, other)
			}
		}
		entry := backend.CertificateEntry{
			Alias:       backend.DefaultAlias(cert),
			Certificate: cert,
			Chain:       chain,
		}
		return key, []backend.CertificateEntry{entry}, nil
	}
	return nil, nil, ErrKeyMismatch
}

// decodePrivateKey parses one key block. Encrypted PKCS#8 goes through
// youmark/pkcs8 (PBES2); plain PKCS#8, PKCS#1 and SEC1 keys are accepted too.
func decodePrivateKey(block *pem.Block, password []byte) (crypto.Signer, error) {
	var (
		key any
		err error
	)
	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		if len(password) == 0 {
			return nil, ErrPasswordRequired
		}
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
		if err != nil {
			if isPasswordError(err) {
				return nil, ErrIncorrectPassword
			}
			return nil, fmt.Errorf("pkcs12: failed to decrypt private key: %w", err)
		}
	case "PRIVATE KEY":
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("pkcs12: failed to parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", backend.ErrUnsupportedAlgorithm, key)
	}
	return signer, nil
}

func publicKeyMatches(cert *x509.Certificate, key crypto.Signer) bool {
	certDER, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return false
	}
	keyDER, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return false
	}
	return bytes.Equal(certDER, keyDER)
}

// isPasswordError reports whether a youmark/pkcs8 error means the
// password was wrong. A bad key yields garbage plaintext, which surfaces
// as a padding or ASN.1 error.
func isPasswordError(err error) bool {
	msg := err.Error()
	for _, s := range []string{"incorrect password", "asn1: structure error", "tags don't match", "padding"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
