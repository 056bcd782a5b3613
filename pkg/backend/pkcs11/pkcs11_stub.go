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

// Package pkcs11 opens a signing identity held on a PKCS#11 token. This
// build carries no native support; build with -tags pkcs11 (cgo) to use
// hardware tokens.
package pkcs11

import (
	"github.com/jeremyhahn/go-jsign/pkg/backend"
	p11 "github.com/jeremyhahn/go-jsign/pkg/pkcs11"
)

// Helper is unavailable in this build.
type Helper struct {
	*backend.Base
}

// NewHelper validates cfg and reports that token support is missing.
func NewHelper(cfg *Config, _ ...p11.Option) (*Helper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}

// Describe returns an empty descriptor.
func (h *Helper) Describe() backend.Descriptor {
	return backend.Descriptor{Type: backend.StorePKCS11}
}
