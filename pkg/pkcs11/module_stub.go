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

//go:build !pkcs11

package pkcs11

// DefaultLoader reports that native PKCS#11 support was not compiled in.
// Build with -tags pkcs11 (cgo) to load real modules.
func DefaultLoader(params AcquireParams) (Module, error) {
	return nil, &BindingError{
		Kind:    KindUnavailable,
		Library: params.Library,
		Element: ElementFunctionList,
		Err:     ErrUnavailable,
	}
}
