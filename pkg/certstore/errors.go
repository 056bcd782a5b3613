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

package certstore

import "errors"

var (
	// ErrCertNotFound is returned when no identity matches a lookup.
	ErrCertNotFound = errors.New("certstore: certificate not found")

	// ErrNoPrivateKey is returned when an identity's private key cannot be
	// acquired.
	ErrNoPrivateKey = errors.New("certstore: no private key for certificate")

	// ErrUnsupportedPlatform is returned when the OS has no certificate
	// store this package can query.
	ErrUnsupportedPlatform = errors.New("certstore: system certificate store not supported on this platform")

	// ErrStoreClosed is returned when the store has been closed.
	ErrStoreClosed = errors.New("certstore: store is closed")

	// ErrUnsupportedKey is returned for keys that are neither RSA nor ECDSA.
	ErrUnsupportedKey = errors.New("certstore: unsupported key type")
)
