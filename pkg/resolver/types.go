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
	"context"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/pkcs11"
)

// State is a step of the resolution state machine.
type State int

const (
	StateNoKeyStore State = iota
	StateResolvingFromConfig
	StateResolvingFromDiscovery
	StateCandidateSelection
	StateCertificateNotFound
	StateManualConfiguration
	StateResolved
	StateUnresolved
)

var stateNames = map[State]string{
	StateNoKeyStore:             "no-keystore",
	StateResolvingFromConfig:    "resolving-from-config",
	StateResolvingFromDiscovery: "resolving-from-discovery",
	StateCandidateSelection:     "candidate-selection",
	StateCertificateNotFound:    "certificate-not-found",
	StateManualConfiguration:    "manual-configuration",
	StateResolved:               "resolved",
	StateUnresolved:             "unresolved",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Outcome is what a dialog collaborator decided.
type Outcome int

const (
	// OutcomeCancel abandons resolution. It is the zero value so that an
	// unset outcome never proceeds.
	OutcomeCancel Outcome = iota
	OutcomeConfirmed
	OutcomeRetry
	OutcomeOpenConfiguration
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRetry:
		return "retry"
	case OutcomeOpenConfiguration:
		return "open-configuration"
	default:
		return "cancel"
	}
}

// Factory opens a helper from a persisted configuration.
type Factory interface {
	FromConfiguration(ctx context.Context, cfg *config.Configuration) (backend.Helper, error)
}

// Discoverer lists helpers that can be used without configuration.
type Discoverer interface {
	Available(ctx context.Context) ([]backend.Helper, error)
}

// DiscovererFunc adapts a function to Discoverer.
type DiscovererFunc func(ctx context.Context) ([]backend.Helper, error)

func (f DiscovererFunc) Available(ctx context.Context) ([]backend.Helper, error) {
	return f(ctx)
}

// Selector lets the user pick one of the discovered candidates. The
// returned helper must be one of candidates when the outcome is
// OutcomeConfirmed.
type Selector interface {
	Select(ctx context.Context, candidates []backend.Helper) (backend.Helper, Outcome, error)
}

// NotFoundPrompt tells the user no certificate was found and offers the
// installed drivers as a hint. Only OutcomeRetry, OutcomeOpenConfiguration
// and OutcomeCancel are meaningful.
type NotFoundPrompt interface {
	CertificateNotFound(ctx context.Context, drivers []pkcs11.Driver) (Outcome, error)
}

// Configurator runs the manual configuration flow, starting from a copy of
// the current configuration.
type Configurator interface {
	Configure(ctx context.Context, current *config.Configuration) (backend.Helper, Outcome, error)
}

// ConfigWriter persists a configuration. *config.Manager implements it.
type ConfigWriter interface {
	Write(cfg *config.Configuration) error
}

// DriverCatalog lists installed PKCS#11 drivers. *pkcs11.Catalog
// implements it.
type DriverCatalog interface {
	Installed(ctx context.Context) []pkcs11.Driver
}
