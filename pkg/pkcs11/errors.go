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

import (
	"errors"
	"fmt"
)

var (
	// ErrBinding matches every *BindingError via errors.Is.
	ErrBinding = errors.New("pkcs11: binding failed")

	// ErrUnavailable is returned when the binary was built without native
	// PKCS#11 support (the pkcs11 build tag).
	ErrUnavailable = errors.New("pkcs11: native module support not compiled in")

	// ErrModuleNotFound is returned when the module path does not resolve to a file.
	ErrModuleNotFound = errors.New("pkcs11: module not found")

	// ErrUnsupportedLayout is returned when the module reports a Cryptoki
	// version whose structure layout this package does not know.
	ErrUnsupportedLayout = errors.New("pkcs11: unsupported cryptoki layout")

	// ErrLabelOverrun is returned when a token label does not fit the
	// fixed CK_TOKEN_INFO field, which means the structure was misread.
	ErrLabelOverrun = errors.New("pkcs11: token label exceeds CK_TOKEN_INFO field")
)

// Kind classifies which part of the native calling contract failed.
type Kind int

const (
	KindUnavailable Kind = iota
	KindModuleNotFound
	KindLoadFailed
	KindMissingSymbol
	KindMissingField
	KindAccessDenied
	KindWrongArguments
	KindLayoutMismatch
	KindCallFailed
)

var kindNames = map[Kind]string{
	KindUnavailable:    "native support unavailable",
	KindModuleNotFound: "module not found",
	KindLoadFailed:     "module load failed",
	KindMissingSymbol:  "missing entry point",
	KindMissingField:   "missing structure field",
	KindAccessDenied:   "access denied",
	KindWrongArguments: "wrong arguments",
	KindLayoutMismatch: "layout mismatch",
	KindCallFailed:     "native call failed",
}

// String returns a short human readable name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Contract elements named in BindingError diagnostics.
const (
	ElementLibrary      = "library"
	ElementFunctionList = "C_GetFunctionList"
	ElementInitialize   = "C_Initialize"
	ElementGetInfo      = "C_GetInfo"
	ElementGetSlotList  = "C_GetSlotList"
	ElementGetTokenInfo = "C_GetTokenInfo"
	ElementTokenLabel   = "CK_TOKEN_INFO.label"
	ElementFinalize     = "C_Finalize"
)

// BindingError is the only error type that leaves this package for native
// failures. It is fatal and never retried automatically. Library and
// Element identify which assumption about the vendor module broke.
type BindingError struct {
	Kind    Kind
	Library string
	Element string
	Err     error
}

func (e *BindingError) Error() string {
	msg := fmt.Sprintf("pkcs11: %s", e.Kind)
	if e.Element != "" {
		msg += " at " + e.Element
	}
	if e.Library != "" {
		msg += fmt.Sprintf(" (module %s)", e.Library)
	}
	switch e.Kind {
	case KindMissingSymbol, KindMissingField, KindWrongArguments, KindLayoutMismatch:
		msg += ", this may be due to a change in the underlying driver"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BindingError) Unwrap() error {
	return e.Err
}

// Is reports ErrBinding for any binding error so callers can test the
// taxonomy without a type assertion.
func (e *BindingError) Is(target error) bool {
	return target == ErrBinding
}

// newBindingError builds a BindingError, keeping an existing one intact.
func newBindingError(kind Kind, library, element string, err error) error {
	var be *BindingError
	if errors.As(err, &be) {
		if be.Library == "" {
			be.Library = library
		}
		if be.Element == "" {
			be.Element = element
		}
		return be
	}
	return &BindingError{
		Kind:    kind,
		Library: library,
		Element: element,
		Err:     err,
	}
}

// IsBindingError reports whether err carries a BindingError and returns it.
func IsBindingError(err error) (*BindingError, bool) {
	var be *BindingError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
