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

// Package storage is the key/value substrate beneath the persisted signer
// configuration. Values are opaque bytes; the config package owns the
// encoding.
package storage

import (
	"io/fs"
)

// Backend is a flat key/value store. Implementations are safe for
// concurrent use.
type Backend interface {
	// Get returns ErrNotFound for a missing key.
	Get(key string) ([]byte, error)

	// Put replaces the value under key. A failed Put leaves the previous
	// value readable.
	Put(key string, value []byte, opts *Options) error

	// Delete returns ErrNotFound for a missing key.
	Delete(key string) error

	Close() error
}

// Options tunes a single Put.
type Options struct {
	// Permissions applies to file backed stores only.
	Permissions fs.FileMode
}

// DefaultOptions returns Options with owner-only permissions.
func DefaultOptions() *Options {
	return &Options{
		Permissions: 0600,
	}
}
