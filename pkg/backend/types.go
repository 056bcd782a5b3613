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

import (
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

// Re-exports so helper implementations and callers can stay inside this
// package's vocabulary.
type (
	// StoreType identifies the kind of key store behind a helper.
	StoreType = types.StoreType

	// Password holds a PIN or file password.
	Password = types.Password
)

// StoreType constant re-exports
const (
	StorePKCS11 = types.StorePKCS11
	StoreMSCAPI = types.StoreMSCAPI
	StorePKCS12 = types.StorePKCS12
)
