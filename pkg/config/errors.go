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

package config

import "errors"

var (
	// ErrNoConfiguration is returned by Load when nothing has been persisted yet.
	ErrNoConfiguration = errors.New("config: no configuration stored")

	// ErrInvalidConfiguration is returned when stored configuration cannot be decoded.
	ErrInvalidConfiguration = errors.New("config: invalid configuration")
)
