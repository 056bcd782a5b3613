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

package backend

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
	"sync"
)

// SignerOpts carries the hash and optional raw data for a signature.
// When BlobData is set the digest is computed from it.
type SignerOpts struct {
	// BlobData is the raw data to sign.
	BlobData []byte

	// Hash is the digest algorithm.
	Hash crypto.Hash

	// PSSOptions selects RSA-PSS padding instead of PKCS#1 v1.5.
	PSSOptions *rsa.PSSOptions
}

func (opts *SignerOpts) HashFunc() crypto.Hash {
	return opts.Hash
}

// NewSignerOpts returns options for hash.
func NewSignerOpts(hash crypto.Hash) *SignerOpts {
	return &SignerOpts{Hash: hash}
}

func (opts *SignerOpts) WithBlobData(data []byte) *SignerOpts {
	opts.BlobData = data
	return opts
}

func (opts *SignerOpts) WithPSSOptions(pss *rsa.PSSOptions) *SignerOpts {
	opts.PSSOptions = pss
	return opts
}

// GetDigest returns the digest to sign: computed from BlobData when set,
// otherwise precomputed.
func (opts *SignerOpts) GetDigest(precomputed []byte) ([]byte, error) {
	if opts.BlobData == nil {
		return precomputed, nil
	}
	if opts.Hash == 0 {
		return opts.BlobData, nil
	}
	if !opts.Hash.Available() {
		return nil, ErrInvalidHashFunction
	}
	h := opts.Hash.New()
	h.Write(opts.BlobData)
	return h.Sum(nil), nil
}

// SerializedSigner guards a crypto.Signer with a mutex. Hardware tokens
// accept one operation at a time per session, so every helper hands out
// only serialized signers.
type SerializedSigner struct {
	mu     sync.Mutex
	signer crypto.Signer
	closed bool
}

// NewSerializedSigner wraps signer.
func NewSerializedSigner(signer crypto.Signer) (*SerializedSigner, error) {
	if signer == nil {
		return nil, ErrSignerRequired
	}
	if s, ok := signer.(*SerializedSigner); ok {
		return s, nil
	}
	return &SerializedSigner{signer: signer}, nil
}

func (s *SerializedSigner) Public() crypto.PublicKey {
	return s.signer.Public()
}

// Sign signs digest. *SignerOpts is honoured for BlobData and RSA-PSS.
func (s *SerializedSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if signerOpts, ok := opts.(*SignerOpts); ok {
		return s.signWithOpts(rand, digest, signerOpts)
	}
	return s.signer.Sign(rand, digest, opts)
}

func (s *SerializedSigner) signWithOpts(rand io.Reader, digest []byte, opts *SignerOpts) ([]byte, error) {
	switch key := s.signer.Public().(type) {
	case ed25519.PublicKey:
		// Ed25519 signs the message itself
		if opts.BlobData != nil {
			return s.signer.Sign(rand, opts.BlobData, crypto.Hash(0))
		}
		return s.signer.Sign(rand, digest, crypto.Hash(0))
	case *rsa.PublicKey:
		d, err := opts.GetDigest(digest)
		if err != nil {
			return nil, fmt.Errorf("failed to get digest: %w", err)
		}
		if opts.PSSOptions != nil {
			return s.signer.Sign(rand, d, opts.PSSOptions)
		}
		return s.signer.Sign(rand, d, opts.Hash)
	case *ecdsa.PublicKey:
		d, err := opts.GetDigest(digest)
		if err != nil {
			return nil, fmt.Errorf("failed to get digest: %w", err)
		}
		return s.signer.Sign(rand, d, opts.Hash)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, key)
	}
}

func (s *SerializedSigner) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// KeyAlgorithm returns the x509 public key algorithm of the signer.
func KeyAlgorithm(signer crypto.Signer) x509.PublicKeyAlgorithm {
	switch signer.Public().(type) {
	case *rsa.PublicKey:
		return x509.RSA
	case *ecdsa.PublicKey:
		return x509.ECDSA
	case ed25519.PublicKey:
		return x509.Ed25519
	default:
		return x509.UnknownPublicKeyAlgorithm
	}
}

// SignData signs data with SHA-256: PKCS#1 v1.5 for RSA, ASN.1 ECDSA for
// EC keys, plain Ed25519 otherwise.
func SignData(signer crypto.Signer, data []byte) ([]byte, error) {
	if KeyAlgorithm(signer) == x509.UnknownPublicKeyAlgorithm {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, signer.Public())
	}
	opts := NewSignerOpts(crypto.SHA256).WithBlobData(data)
	if KeyAlgorithm(signer) == x509.Ed25519 {
		opts.Hash = 0
	}
	if s, ok := signer.(*SerializedSigner); ok {
		return s.Sign(rand.Reader, nil, opts)
	}
	s, err := NewSerializedSigner(signer)
	if err != nil {
		return nil, err
	}
	return s.Sign(rand.Reader, nil, opts)
}
