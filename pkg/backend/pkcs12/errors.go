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

import "errors"

var (
	// ErrIncorrectPassword is returned when the store password is wrong.
	ErrIncorrectPassword = errors.New("pkcs12: incorrect password")

	// ErrPasswordRequired is returned when an encrypted key is opened
	// without a password.
	ErrPasswordRequired = errors.New("pkcs12: password required")

	// ErrNoPrivateKey is returned when a bundle holds certificates only.
	ErrNoPrivateKey = errors.New("pkcs12: no private key in store")

	// ErrKeyMismatch is returned when no certificate in a PEM bundle
	// matches its private key.
	ErrKeyMismatch = errors.New("pkcs12: no certificate matches the private key")

	// ErrInvalidPath is returned when the store path is empty.
	ErrInvalidPath = errors.New("pkcs12: invalid key store path")
)
