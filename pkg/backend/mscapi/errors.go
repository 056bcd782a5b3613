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

package mscapi

import "errors"

var (
	// ErrNoIdentity is returned when a nil identity is passed to NewHelper.
	ErrNoIdentity = errors.New("mscapi: identity is required")

	// ErrNoSelector is returned by Open when neither a thumbprint nor an
	// alias is given.
	ErrNoSelector = errors.New("mscapi: thumbprint or alias is required")
)
