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

package signing

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMessages indicates an empty batch
	ErrNoMessages = errors.New("signing: no messages to sign")

	// ErrNoHelper indicates no key store helper was supplied
	ErrNoHelper = errors.New("signing: no key store helper")

	// ErrDetachedCoSign indicates a detached signature was given for
	// co-signing without its content
	ErrDetachedCoSign = errors.New("signing: cannot co-sign a detached signature without its content")

	// ErrUnsupportedDigest indicates a digest algorithm CMS output does not support
	ErrUnsupportedDigest = errors.New("signing: unsupported digest algorithm")

	// ErrNotSignedData indicates the input is not a CMS SignedData structure
	ErrNotSignedData = errors.New("signing: not a CMS SignedData structure")

	// ErrContentMismatch indicates two signatures cover different content
	ErrContentMismatch = errors.New("signing: signatures cover different content")

	// ErrMissingContent indicates a detached signature was verified without content
	ErrMissingContent = errors.New("signing: detached signature requires content")

	// ErrNoSigners indicates a SignedData structure without signer infos
	ErrNoSigners = errors.New("signing: no signers")
)

// SigningError reports which message of a batch failed. Index is -1 for
// failures that concern the whole batch.
type SigningError struct {
	Name  string
	Index int
	Err   error
}

func (e *SigningError) Error() string {
	if e.Index < 0 {
		return e.Err.Error()
	}
	if e.Name == "" {
		return fmt.Sprintf("signing: message %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("signing: %s: %v", e.Name, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}
