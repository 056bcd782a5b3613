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

// Package types contains shared type definitions used across go-jsign.
// It has no dependencies on other go-jsign packages to prevent import
// cycles.
package types

import (
	"errors"
	"strings"
)

// ErrInvalidKeyStore is returned when a key store type string is not recognized.
var ErrInvalidKeyStore = errors.New("types: invalid key store type")

// StoreType identifies where signing certificates and keys live.
type StoreType string

const (
	StorePKCS11  StoreType = "pkcs11"
	StoreMSCAPI  StoreType = "mscapi"
	StorePKCS12  StoreType = "pkcs12"
	StoreUnknown StoreType = "unknown"
)

// StoreTypes lists every supported store type in preference order.
var StoreTypes = []StoreType{StorePKCS11, StoreMSCAPI, StorePKCS12}

// String returns the string representation of the store type.
func (st StoreType) String() string {
	return string(st)
}

// IsValid returns true if the store type is recognized.
func (st StoreType) IsValid() bool {
	switch st {
	case StorePKCS11, StoreMSCAPI, StorePKCS12:
		return true
	default:
		return false
	}
}

// ParseStoreType converts a string to a StoreType.
// Returns StoreUnknown and ErrInvalidKeyStore if s is not a store type.
// "windows" and "pfx" are accepted as aliases.
func ParseStoreType(s string) (StoreType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pkcs11":
		return StorePKCS11, nil
	case "mscapi", "windows":
		return StoreMSCAPI, nil
	case "pkcs12", "pfx":
		return StorePKCS12, nil
	default:
		return StoreUnknown, ErrInvalidKeyStore
	}
}

// Password holds a PIN or file password. Clear zeroes it once the key
// store has been opened.
type Password interface {
	// Bytes returns a copy of the password
	Bytes() []byte

	// String returns the password as a string
	String() string

	// Clear zeros out the password from memory
	Clear()
}

// ClearPassword stores the password in memory as given.
type ClearPassword struct {
	password []byte
}

// NewPassword creates a password from a copy of password.
func NewPassword(password []byte) Password {
	p := make([]byte, len(password))
	copy(p, password)
	return &ClearPassword{password: p}
}

// NewPasswordFromString creates a password from s.
func NewPasswordFromString(s string) Password {
	return &ClearPassword{password: []byte(s)}
}

func (p *ClearPassword) String() string {
	return string(p.password)
}

// Bytes returns a copy of the password.
func (p *ClearPassword) Bytes() []byte {
	b := make([]byte, len(p.password))
	copy(b, p.password)
	return b
}

// Clear overwrites the password memory with zeros.
func (p *ClearPassword) Clear() {
	for i := range p.password {
		p.password[i] = 0
	}
}
