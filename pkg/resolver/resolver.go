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

// Package resolver decides which key store helper signs.
//
// Resolution walks an explicit state machine: the persisted configuration
// is tried first, then discovery, then the "certificate not found" prompt
// and the manual configuration flow. A stale configuration never blocks
// the user; any failure to open it falls through to discovery.
//
//	NoKeyStore -> ResolvingFromConfig -> Resolved
//	           \-> ResolvingFromDiscovery -> CandidateSelection -> Resolved
//	                                     |                     \-> ManualConfiguration
//	                                     \-> CertificateNotFound -> (retry) ResolvingFromDiscovery
//	                                                            \-> ManualConfiguration -> Resolved
//	any step -> Unresolved
package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/correlation"
	"github.com/jeremyhahn/go-jsign/pkg/logging"
	"github.com/jeremyhahn/go-jsign/pkg/metrics"
	"github.com/jeremyhahn/go-jsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/validation"
)

// Options wires the resolver collaborators. Every field is optional; a
// missing dialog collaborator behaves as if the user cancelled.
type Options struct {
	Configuration *config.Configuration
	Store         ConfigWriter
	Factory       Factory
	Discoverer    Discoverer
	Selector      Selector
	NotFound      NotFoundPrompt
	Configurator  Configurator
	Drivers       DriverCatalog
	Logger        *logging.Logger

	// OnPersistenceError is called when a new selection could not be saved.
	OnPersistenceError func(*PersistenceError)

	// MaxRetries bounds OutcomeRetry round trips; 0 means unlimited.
	MaxRetries int
}

// Resolver owns the active helper of a session.
type Resolver struct {
	mu   sync.Mutex
	opts Options

	cfg         *config.Configuration
	current     backend.Helper
	state       State
	transitions []State
	lastErr     *ResolutionError
}

// New creates a resolver. The configuration is copied.
func New(opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	return &Resolver{
		opts:  opts,
		cfg:   opts.Configuration.Clone(),
		state: StateNoKeyStore,
	}
}

// Resolve returns the active helper, resolving one if needed.
func (r *Resolver) Resolve(ctx context.Context) (backend.Helper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		metrics.RecordResolution(metrics.PathCached, metrics.StatusSuccess)
		return r.current, nil
	}

	ctx, _ = correlation.Ensure(ctx)
	logger := correlation.Logger(ctx, r.opts.Logger)
	start := time.Now()

	r.transitions = r.transitions[:0]
	r.lastErr = nil
	r.enter(StateNoKeyStore)

	h, path, err := r.resolve(ctx, logger)
	if err != nil {
		last := r.state
		r.enter(StateUnresolved)
		metrics.RecordResolution(path, metrics.StatusError)
		metrics.RecordOperation(metrics.OpResolve, "", metrics.StatusError, time.Since(start).Seconds())
		var nc *NoCertificateError
		if !errors.As(err, &nc) {
			err = &NoCertificateError{State: last, Cause: err}
		}
		logger.Warnf("resolver: %v", err)
		return nil, err
	}

	r.current = h
	r.enter(StateResolved)
	metrics.RecordResolution(path, metrics.StatusSuccess)
	metrics.RecordOperation(metrics.OpResolve, h.Type().String(), metrics.StatusSuccess, time.Since(start).Seconds())
	logger.Infof("resolver: using %s certificate %q", h.Type(), validation.SanitizeForLog(h.Alias()))
	return h, nil
}

func (r *Resolver) resolve(ctx context.Context, logger *logging.Logger) (backend.Helper, string, error) {
	if r.cfg.IsDefinedKeyStoreType() {
		r.enter(StateResolvingFromConfig)
		h, err := r.fromConfiguration(ctx)
		if err == nil {
			return h, metrics.PathConfig, nil
		}
		r.lastErr = &ResolutionError{Config: r.cfg.Clone(), Err: err}
		metrics.RecordError(metrics.OpResolve, r.cfg.KeyStoreType.String(), "stale_configuration")
		logger.Warnf("%v; falling back to discovery", r.lastErr)
	}

	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, metrics.PathDiscovery, &NoCertificateError{State: r.state, Cause: err}
		}

		r.enter(StateResolvingFromDiscovery)
		candidates := r.discover(ctx, logger)
		if err := ctx.Err(); err != nil {
			closeHelpers(candidates, nil, logger)
			return nil, metrics.PathDiscovery, &NoCertificateError{State: r.state, Cause: err}
		}

		if len(candidates) > 0 {
			r.enter(StateCandidateSelection)
			h, outcome, err := r.selectCandidate(ctx, candidates)
			if outcome != OutcomeConfirmed || err != nil {
				h = nil
			}
			closeHelpers(candidates, h, logger)
			if err != nil {
				return nil, metrics.PathDiscovery, &NoCertificateError{State: r.state, Cause: err}
			}
			switch outcome {
			case OutcomeConfirmed:
				if h == nil {
					return nil, metrics.PathDiscovery, &NoCertificateError{State: r.state}
				}
				r.persist(h, logger)
				return h, metrics.PathDiscovery, nil
			case OutcomeOpenConfiguration:
				return r.manual(ctx, logger)
			default:
				return nil, metrics.PathDiscovery, &NoCertificateError{State: r.state}
			}
		}

		r.enter(StateCertificateNotFound)
		outcome, err := r.certificateNotFound(ctx)
		if err != nil {
			return nil, metrics.PathDiscovery, &NoCertificateError{State: r.state, Cause: err}
		}
		switch outcome {
		case OutcomeRetry:
			retries++
			if r.opts.MaxRetries > 0 && retries > r.opts.MaxRetries {
				logger.Warnf("resolver: giving up after %d retries", r.opts.MaxRetries)
				return nil, metrics.PathDiscovery, &NoCertificateError{State: r.state}
			}
			continue
		case OutcomeOpenConfiguration:
			return r.manual(ctx, logger)
		default:
			return nil, metrics.PathDiscovery, &NoCertificateError{State: r.state}
		}
	}
}

func (r *Resolver) manual(ctx context.Context, logger *logging.Logger) (backend.Helper, string, error) {
	r.enter(StateManualConfiguration)
	if r.opts.Configurator == nil {
		return nil, metrics.PathManual, &NoCertificateError{State: r.state}
	}
	h, outcome, err := r.opts.Configurator.Configure(ctx, r.cfg.Clone())
	if err != nil {
		closeHelpers([]backend.Helper{h}, nil, logger)
		return nil, metrics.PathManual, &NoCertificateError{State: r.state, Cause: err}
	}
	if outcome != OutcomeConfirmed || h == nil {
		closeHelpers([]backend.Helper{h}, nil, logger)
		return nil, metrics.PathManual, &NoCertificateError{State: r.state}
	}
	r.persist(h, logger)
	return h, metrics.PathManual, nil
}

func (r *Resolver) fromConfiguration(ctx context.Context) (backend.Helper, error) {
	if r.opts.Factory == nil {
		return nil, errors.New("no key store factory")
	}
	h, err := r.opts.Factory.FromConfiguration(ctx, r.cfg.Clone())
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, backend.ErrNoCertificates
	}
	return h, nil
}

// discover never fails: discovery errors are logged and treated as an
// empty result so the user still reaches the not-found prompt.
func (r *Resolver) discover(ctx context.Context, logger *logging.Logger) []backend.Helper {
	if r.opts.Discoverer == nil {
		return nil
	}
	start := time.Now()
	candidates, err := r.opts.Discoverer.Available(ctx)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		logger.Warnf("resolver: discovery failed: %v", err)
	}
	metrics.RecordOperation(metrics.OpDiscover, "", status, time.Since(start).Seconds())
	logger.Debugf("resolver: discovered %d candidate(s)", len(candidates))
	return candidates
}

func (r *Resolver) selectCandidate(ctx context.Context, candidates []backend.Helper) (backend.Helper, Outcome, error) {
	if r.opts.Selector == nil {
		return nil, OutcomeCancel, nil
	}
	h, outcome, err := r.opts.Selector.Select(ctx, candidates)
	if h != nil && !contains(candidates, h) {
		return nil, OutcomeCancel, errors.New("resolver: selector returned an unknown candidate")
	}
	return h, outcome, err
}

func (r *Resolver) certificateNotFound(ctx context.Context) (Outcome, error) {
	if r.opts.NotFound == nil {
		return OutcomeCancel, nil
	}
	var drivers []pkcs11.Driver
	if r.opts.Drivers != nil {
		drivers = r.opts.Drivers.Installed(ctx)
	}
	return r.opts.NotFound.CertificateNotFound(ctx, drivers)
}

// persist records h in the configuration and saves it. Failure is
// reported but leaves h active.
func (r *Resolver) persist(h backend.Helper, logger *logging.Logger) {
	r.cfg.UpdateKeyStoreHelper(h)
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.Write(r.cfg); err != nil {
		perr := &PersistenceError{Config: r.cfg.Clone(), Err: err}
		metrics.RecordError(metrics.OpPersist, h.Type().String(), "write_failed")
		logger.Error(perr)
		if r.opts.OnPersistenceError != nil {
			r.opts.OnPersistenceError(perr)
		}
	}
}

func (r *Resolver) enter(s State) {
	r.state = s
	r.transitions = append(r.transitions, s)
}

// Reset drops the active helper so the next Resolve starts over. The
// helper is closed.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.opts.Logger.MaybeError(r.current.Close())
		r.current = nil
	}
	r.state = StateNoKeyStore
	r.transitions = r.transitions[:0]
}

// Current returns the active helper, or nil.
func (r *Resolver) Current() backend.Helper {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Use makes h the active helper, closing any previous one, and records it
// in the configuration.
func (r *Resolver) Use(h backend.Helper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current != h {
		r.opts.Logger.MaybeError(r.current.Close())
	}
	r.current = h
	r.transitions = r.transitions[:0]
	r.enter(StateResolved)
	r.persist(h, r.opts.Logger)
}

// State returns the current state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Transitions returns the states visited by the last resolution, in order.
func (r *Resolver) Transitions() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// LastResolutionError returns the configuration failure that triggered
// the last discovery fallback, if any.
func (r *Resolver) LastResolutionError() *ResolutionError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Configuration returns a copy of the configuration as it stands.
func (r *Resolver) Configuration() *config.Configuration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Clone()
}

// SetConfiguration replaces the configuration used by the next resolution.
func (r *Resolver) SetConfiguration(cfg *config.Configuration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg.Clone()
}

// Close closes the active helper.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}

func contains(helpers []backend.Helper, h backend.Helper) bool {
	for _, c := range helpers {
		if c == h {
			return true
		}
	}
	return false
}

// closeHelpers closes every helper except keep.
func closeHelpers(helpers []backend.Helper, keep backend.Helper, logger *logging.Logger) {
	for _, h := range helpers {
		if h == nil || h == keep {
			continue
		}
		logger.MaybeError(h.Close())
	}
}
