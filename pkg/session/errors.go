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

package session

import "errors"

var (
	// ErrNoFile indicates SignFile was called without a path
	ErrNoFile = errors.New("session: no file to sign")

	// ErrPKCS12NotAllowed indicates the manual configuration flow produced
	// a PKCS#12 key store while those are disabled
	ErrPKCS12NotAllowed = errors.New("session: PKCS#12 key stores are not allowed")

	// ErrClosed indicates the session was closed
	ErrClosed = errors.New("session: closed")
)
