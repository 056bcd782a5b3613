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

package pkcs11

import (
	"context"
	"errors"
	"sort"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/logging"
	p11 "github.com/jeremyhahn/go-jsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/types"
	"github.com/jeremyhahn/go-jsign/pkg/validation"
)

// ErrSkipToken is returned by a PINFunc to leave a token out of discovery.
var ErrSkipToken = errors.New("pkcs11: token skipped")

// PINFunc supplies the PIN for the token labelled label in slot of driver.
type PINFunc func(ctx context.Context, driver p11.Driver, slot p11.SlotID, label string) (types.Password, error)

// Discoverer opens a helper for every token visible through the installed
// drivers of a catalog.
type Discoverer struct {
	Catalog *p11.Catalog
	PIN     PINFunc
	Options []p11.Option
	Logger  *logging.Logger
}

// Available binds every installed driver and opens each token it reports.
// Tokens that fail to open are logged and skipped; discovery itself only
// fails when ctx is cancelled.
func (d *Discoverer) Available(ctx context.Context) ([]backend.Helper, error) {
	logger := d.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	var helpers []backend.Helper
	for _, driver := range d.Catalog.Installed(ctx) {
		if driver.Err != nil {
			continue
		}
		slots := append([]p11.SlotID(nil), driver.Slots...)
		sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

		for _, slot := range slots {
			if err := ctx.Err(); err != nil {
				return helpers, err
			}
			label := driver.Tokens[slot]
			s := uint(slot)
			cfg := &Config{Library: driver.Library, Slot: &s, TokenLabel: label}
			if d.PIN != nil {
				pin, err := d.PIN(ctx, driver, slot, label)
				if errors.Is(err, ErrSkipToken) {
					continue
				}
				if err != nil {
					return helpers, err
				}
				cfg.PIN = pin
			}

			h, err := NewHelper(cfg, d.Options...)
			if err != nil {
				logger.Warnf("pkcs11: token %q in %s (slot %d) unusable: %v", validation.SanitizeForLog(label), driver.Name, slot, err)
				continue
			}
			helpers = append(helpers, h)
		}
	}
	if err := ctx.Err(); err != nil {
		return helpers, err
	}
	return helpers, nil
}
