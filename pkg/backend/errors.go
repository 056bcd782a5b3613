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

import "errors"

var (
	// ErrCertificateNotFound is returned when no certificate entry matches
	// the requested alias.
	ErrCertificateNotFound = errors.New("backend: certificate not found")

	// ErrNoCertificates is returned when a key store holds no usable
	// certificate/key pair.
	ErrNoCertificates = errors.New("backend: key store contains no certificates")

	// ErrSignerRequired is returned when a helper is built without a signer.
	ErrSignerRequired = errors.New("backend: signer is required")

	// ErrUnsupportedAlgorithm is returned for keys that are neither RSA,
	// ECDSA nor Ed25519.
	ErrUnsupportedAlgorithm = errors.New("backend: unsupported signing algorithm")

	// ErrInvalidHashFunction indicates an invalid or unavailable hash function
	ErrInvalidHashFunction = errors.New("backend: invalid or unavailable hash function")

	// ErrClosed is returned when signing through a closed helper.
	ErrClosed = errors.New("backend: key store closed")
)
