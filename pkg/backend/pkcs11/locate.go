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
	"fmt"

	p11 "github.com/jeremyhahn/go-jsign/pkg/pkcs11"
)

// locateToken resolves the configured slot or label against the bind-time
// snapshot. The slot wins while it still holds the labelled token, so
// tokens sharing a label stay distinct; otherwise the label is searched.
func locateToken(w *p11.Wrapper, cfg *Config) (uint, string, error) {
	if cfg.Slot != nil {
		slot := p11.SlotID(*cfg.Slot)
		label, _ := w.TokenLabel(slot)
		if w.HasSlot(slot) && (cfg.TokenLabel == "" || label == p11.TrimLabel(cfg.TokenLabel)) {
			return uint(slot), label, nil
		}
	}
	if cfg.TokenLabel != "" {
		slot, ok := w.FindSlotByLabel(cfg.TokenLabel)
		if !ok {
			return 0, "", fmt.Errorf("%w: label %q in %s", ErrTokenNotFound, cfg.TokenLabel, w.Library())
		}
		label, _ := w.TokenLabel(slot)
		return uint(slot), label, nil
	}
	if cfg.Slot == nil {
		return 0, "", fmt.Errorf("%w: no slot or label in %s", ErrTokenNotFound, w.Library())
	}
	return 0, "", fmt.Errorf("%w: slot %d in %s", ErrTokenNotFound, *cfg.Slot, w.Library())
}
