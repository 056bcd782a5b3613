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

package resolver

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-jsign/pkg/config"
)

// ErrNoCertificate is returned when no key store could be resolved through
// configuration, discovery or manual configuration.
var ErrNoCertificate = errors.New("resolver: a signing certificate must be configured before signing")

// ResolutionError reports that the persisted configuration could not be
// opened. It is recovered by falling back to discovery.
type ResolutionError struct {
	Config *config.Configuration
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolver: failed to open configured key store (%s): %v", e.Config, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// NoCertificateError is the terminal error of a resolution attempt. It
// matches ErrNoCertificate and unwraps to the cause, if any.
type NoCertificateError struct {
	// State is the last state before the attempt gave up.
	State State

	// Cause is the collaborator or context error that ended the attempt.
	Cause error
}

func (e *NoCertificateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v (in %s: %v)", ErrNoCertificate, e.State, e.Cause)
	}
	return fmt.Sprintf("%v (in %s)", ErrNoCertificate, e.State)
}

func (e *NoCertificateError) Is(target error) bool {
	return target == ErrNoCertificate
}

func (e *NoCertificateError) Unwrap() error {
	return e.Cause
}

// PersistenceError reports that a new selection could not be saved. The
// selection stays active for the session.
type PersistenceError struct {
	Config *config.Configuration
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("resolver: failed to persist configuration: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
