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

//go:build windows

package certstore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	certKeyProvInfoPropID         = 2
	cryptAcquireCacheFlag         = 0x00000001
	cryptAcquireOnlyNCryptKeyFlag = 0x00040000
	bcryptPadPKCS1                = 0x00000002
	bcryptPadPSS                  = 0x00000008
)

var (
	crypt32 = windows.NewLazySystemDLL("crypt32.dll")
	ncrypt  = windows.NewLazySystemDLL("ncrypt.dll")

	procCertGetCertificateContextProperty = crypt32.NewProc("CertGetCertificateContextProperty")
	procCryptAcquireCertificatePrivateKey = crypt32.NewProc("CryptAcquireCertificatePrivateKey")
	procNCryptSignHash                    = ncrypt.NewProc("NCryptSignHash")
	procNCryptFreeObject                  = ncrypt.NewProc("NCryptFreeObject")
)

type bcryptPKCS1PaddingInfo struct {
	algID *uint16
}

type bcryptPSSPaddingInfo struct {
	algID   *uint16
	saltLen uint32
}

type systemStore struct {
	mu     sync.Mutex
	handle windows.Handle
	closed bool
}

func openSystemStore(name string) (Store, error) {
	n, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CertOpenSystemStore(0, n)
	if err != nil {
		return nil, fmt.Errorf("certstore: open %s: %w", name, err)
	}
	return &systemStore{handle: h}, nil
}

// Identities enumerates every certificate in the store. Certificates that
// fail to parse are skipped.
func (s *systemStore) Identities(ctx context.Context) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []Identity
	var prev *windows.CertContext
	for {
		if err := ctx.Err(); err != nil {
			if prev != nil {
				_ = windows.CertFreeCertificateContext(prev)
			}
			for _, id := range out {
				id.Close()
			}
			return nil, err
		}
		// The previous context is freed by the enumeration itself; the end
		// of the store is reported as CRYPT_E_NOT_FOUND.
		cur, err := windows.CertEnumCertificatesInStore(s.handle, prev)
		if err != nil || cur == nil {
			break
		}
		prev = cur

		der := unsafe.Slice(cur.EncodedCert, cur.Length)
		cert, err := x509.ParseCertificate(append([]byte(nil), der...))
		if err != nil {
			continue
		}
		out = append(out, &systemIdentity{
			handle: windows.CertDuplicateCertificateContext(cur),
			cert:   cert,
		})
	}
	return out, nil
}

func (s *systemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return windows.CertCloseStore(s.handle, 0)
}

type systemIdentity struct {
	mu     sync.Mutex
	handle *windows.CertContext
	cert   *x509.Certificate
	signer *ncryptSigner
}

func (i *systemIdentity) Certificate() (*x509.Certificate, error) {
	return i.cert, nil
}

// TODO: build the chain with CertGetCertificateChain so intermediates from
// the CA store are embedded in signatures.
func (i *systemIdentity) Chain() ([]*x509.Certificate, error) {
	return []*x509.Certificate{i.cert}, nil
}

func (i *systemIdentity) HasPrivateKey() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.handle == nil {
		return false
	}
	var size uint32
	r, _, _ := procCertGetCertificateContextProperty.Call(
		uintptr(unsafe.Pointer(i.handle)),
		certKeyProvInfoPropID,
		0,
		uintptr(unsafe.Pointer(&size)))
	return r != 0
}

// Signer acquires the CNG key linked to the certificate. Smart card
// providers may prompt for the PIN here or on first use.
func (i *systemIdentity) Signer() (crypto.Signer, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.signer != nil {
		return i.signer, nil
	}
	if i.handle == nil {
		return nil, ErrStoreClosed
	}

	switch i.cert.PublicKey.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, i.cert.PublicKey)
	}

	var (
		key        uintptr
		keySpec    uint32
		callerFree int32
	)
	r, _, err := procCryptAcquireCertificatePrivateKey.Call(
		uintptr(unsafe.Pointer(i.handle)),
		cryptAcquireCacheFlag|cryptAcquireOnlyNCryptKeyFlag,
		0,
		uintptr(unsafe.Pointer(&key)),
		uintptr(unsafe.Pointer(&keySpec)),
		uintptr(unsafe.Pointer(&callerFree)))
	if r == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoPrivateKey, err)
	}
	i.signer = &ncryptSigner{key: key, pub: i.cert.PublicKey, free: callerFree != 0}
	return i.signer, nil
}

func (i *systemIdentity) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.signer != nil {
		i.signer.release()
		i.signer = nil
	}
	if i.handle != nil {
		_ = windows.CertFreeCertificateContext(i.handle)
		i.handle = nil
	}
}

// ncryptSigner signs digests with a CNG key handle.
type ncryptSigner struct {
	mu   sync.Mutex
	key  uintptr
	pub  crypto.PublicKey
	free bool
}

func (s *ncryptSigner) Public() crypto.PublicKey {
	return s.pub
}

func (s *ncryptSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == 0 {
		return nil, ErrStoreClosed
	}
	if len(digest) == 0 {
		return nil, fmt.Errorf("certstore: empty digest")
	}

	switch s.pub.(type) {
	case *ecdsa.PublicKey:
		raw, err := s.signHash(nil, digest, 0)
		if err != nil {
			return nil, err
		}
		half := len(raw) / 2
		return asn1.Marshal(struct{ R, S *big.Int }{
			R: new(big.Int).SetBytes(raw[:half]),
			S: new(big.Int).SetBytes(raw[half:]),
		})

	case *rsa.PublicKey:
		alg, err := hashAlgorithmID(opts.HashFunc())
		if err != nil {
			return nil, err
		}
		if pss, ok := opts.(*rsa.PSSOptions); ok {
			saltLen := pss.SaltLength
			if saltLen == rsa.PSSSaltLengthEqualsHash || saltLen == rsa.PSSSaltLengthAuto {
				saltLen = opts.HashFunc().Size()
			}
			info := &bcryptPSSPaddingInfo{algID: alg, saltLen: uint32(saltLen)} // #nosec G115
			sig, err := s.signHash(unsafe.Pointer(info), digest, bcryptPadPSS)
			runtime.KeepAlive(info)
			return sig, err
		}
		info := &bcryptPKCS1PaddingInfo{algID: alg}
		sig, err := s.signHash(unsafe.Pointer(info), digest, bcryptPadPKCS1)
		runtime.KeepAlive(info)
		return sig, err
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, s.pub)
}

func (s *ncryptSigner) signHash(padding unsafe.Pointer, digest []byte, flags uint32) ([]byte, error) {
	var size uint32
	r, _, _ := procNCryptSignHash.Call(
		s.key,
		uintptr(padding),
		uintptr(unsafe.Pointer(&digest[0])),
		uintptr(len(digest)),
		0,
		0,
		uintptr(unsafe.Pointer(&size)),
		uintptr(flags))
	if r != 0 {
		return nil, fmt.Errorf("certstore: NCryptSignHash: %w", windows.Errno(r))
	}

	sig := make([]byte, size)
	r, _, _ = procNCryptSignHash.Call(
		s.key,
		uintptr(padding),
		uintptr(unsafe.Pointer(&digest[0])),
		uintptr(len(digest)),
		uintptr(unsafe.Pointer(&sig[0])),
		uintptr(size),
		uintptr(unsafe.Pointer(&size)),
		uintptr(flags))
	if r != 0 {
		return nil, fmt.Errorf("certstore: NCryptSignHash: %w", windows.Errno(r))
	}
	return sig[:size], nil
}

func (s *ncryptSigner) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.free && s.key != 0 {
		_, _, _ = procNCryptFreeObject.Call(s.key)
	}
	s.key = 0
}

func hashAlgorithmID(h crypto.Hash) (*uint16, error) {
	var name string
	switch h {
	case crypto.SHA1:
		name = "SHA1"
	case crypto.SHA256:
		name = "SHA256"
	case crypto.SHA384:
		name = "SHA384"
	case crypto.SHA512:
		name = "SHA512"
	default:
		return nil, fmt.Errorf("%w: hash %v", ErrUnsupportedKey, h)
	}
	return windows.UTF16PtrFromString(name)
}
