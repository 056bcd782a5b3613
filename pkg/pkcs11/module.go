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

package pkcs11

// DefaultFunctionList is the symbol every Cryptoki module exports to hand
// out its function table.
const DefaultFunctionList = "C_GetFunctionList"

// SlotID identifies a PKCS#11 slot. It is a platform word, like CK_SLOT_ID.
type SlotID uint

// Version is a CK_VERSION.
type Version struct {
	Major byte
	Minor byte
}

// Info is the subset of CK_INFO used to select a structure layout.
type Info struct {
	CryptokiVersion    Version
	ManufacturerID     string
	LibraryDescription string
	LibraryVersion     Version
}

// TokenInfo is the subset of CK_TOKEN_INFO this package reads. Label is
// the raw fixed-width field, still carrying its padding.
type TokenInfo struct {
	Label          string
	ManufacturerID string
	Model          string
	SerialNumber   string
}

// AcquireParams are handed to a Loader once per bind.
type AcquireParams struct {
	// Library is the canonical absolute path of the module.
	Library string

	// FunctionList is the symbol resolved to obtain the function table.
	FunctionList string

	// InitArgs is passed as the reserved C_Initialize argument when the
	// adapter supports it. Empty means no arguments.
	InitArgs string

	// LockRequired requests library-side locking (CKF_OS_LOCKING_OK).
	LockRequired bool
}

// Module is the versioned adapter contract over a loaded Cryptoki module.
// Every unsafe or cgo access lives behind an implementation of this
// interface; the rest of the codebase only sees typed values.
//
// GetTokenInfo returns (nil, nil) when the module reports no token in the
// slot.
type Module interface {
	GetInfo() (Info, error)
	GetSlotList(tokenPresent bool) ([]SlotID, error)
	GetTokenInfo(slot SlotID) (*TokenInfo, error)
	Finalize() error
}

// Loader acquires a Module. Implementations must return *BindingError on
// failure so diagnostics name the broken contract element.
type Loader func(params AcquireParams) (Module, error)

// supportedLayouts maps Cryptoki major versions to the CK_TOKEN_INFO
// layout the adapters were written against.
var supportedLayouts = map[byte]string{
	2: "cryptoki-2.x",
	3: "cryptoki-3.x",
}

// layoutFor returns the layout name for a module version.
func layoutFor(v Version) (string, bool) {
	layout, ok := supportedLayouts[v.Major]
	return layout, ok
}
