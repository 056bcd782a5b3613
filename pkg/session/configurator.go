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

import (
	"context"
	"sync"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/logging"
	"github.com/jeremyhahn/go-jsign/pkg/resolver"
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

// guardedConfigurator enforces the PKCS#12 switch on whatever the wrapped
// configurator returns.
type guardedConfigurator struct {
	inner  resolver.Configurator
	logger *logging.Logger

	mu          sync.Mutex
	allowPKCS12 bool
}

func (g *guardedConfigurator) setAllowPKCS12(allow bool) {
	g.mu.Lock()
	g.allowPKCS12 = allow
	g.mu.Unlock()

	if r, ok := g.inner.(StoreTypeRestricter); ok {
		r.RestrictStoreTypes(allowedStoreTypes(allow))
	}
}

func (g *guardedConfigurator) allowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowPKCS12
}

func (g *guardedConfigurator) Configure(ctx context.Context, current *config.Configuration) (backend.Helper, resolver.Outcome, error) {
	h, outcome, err := g.inner.Configure(ctx, current)
	if err != nil || h == nil {
		return h, outcome, err
	}
	if h.Type() == types.StorePKCS12 && !g.allowed() {
		g.logger.MaybeError(h.Close())
		return nil, resolver.OutcomeCancel, ErrPKCS12NotAllowed
	}
	return h, outcome, nil
}

func allowedStoreTypes(allowPKCS12 bool) []types.StoreType {
	out := make([]types.StoreType, 0, len(types.StoreTypes))
	for _, st := range types.StoreTypes {
		if st == types.StorePKCS12 && !allowPKCS12 {
			continue
		}
		out = append(out, st)
	}
	return out
}
