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

// Package config persists which key store was last selected for signing,
// so later sessions can reopen it without asking.
package config

import (
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/types"
	"github.com/jeremyhahn/go-jsign/pkg/validation"
)

// Configuration records the last selected key store.
type Configuration struct {
	KeyStoreType types.StoreType `yaml:"keystore_type,omitempty" json:"keystore_type,omitempty"`

	// PKCS#11
	Library    string `yaml:"library,omitempty" json:"library,omitempty"`
	Slot       *uint  `yaml:"slot,omitempty" json:"slot,omitempty"`
	TokenLabel string `yaml:"token_label,omitempty" json:"token_label,omitempty"`

	// PKCS#12
	PKCS12Path string `yaml:"pkcs12_path,omitempty" json:"pkcs12_path,omitempty"`

	// Certificate selection
	Alias      string `yaml:"alias,omitempty" json:"alias,omitempty"`
	Thumbprint string `yaml:"thumbprint,omitempty" json:"thumbprint,omitempty"`
}

// IsDefinedKeyStoreType reports whether enough is recorded to reopen the
// key store without asking the user anything.
func (c *Configuration) IsDefinedKeyStoreType() bool {
	if c == nil {
		return false
	}
	switch c.KeyStoreType {
	case types.StorePKCS11:
		return c.Library != "" && (c.Slot != nil || strings.TrimSpace(c.TokenLabel) != "")
	case types.StorePKCS12:
		return c.PKCS12Path != ""
	case types.StoreMSCAPI:
		return c.Thumbprint != "" || c.Alias != ""
	default:
		return false
	}
}

// UpdateKeyStoreHelper replaces the recorded selection with the one h was
// opened from. Helpers that cannot describe themselves only update the
// store type and alias.
func (c *Configuration) UpdateKeyStoreHelper(h backend.Helper) {
	if h == nil {
		return
	}
	desc := backend.Descriptor{Type: h.Type(), Alias: h.Alias()}
	if d, ok := h.(backend.Describer); ok {
		desc = d.Describe()
	}

	*c = Configuration{
		KeyStoreType: desc.Type,
		Library:      desc.Library,
		TokenLabel:   desc.TokenLabel,
		PKCS12Path:   desc.PKCS12Path,
		Alias:        desc.Alias,
		Thumbprint:   desc.Thumbprint,
	}
	if desc.Slot != nil {
		slot := *desc.Slot
		c.Slot = &slot
	}
}

// Clone returns a deep copy.
func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return &Configuration{}
	}
	cp := *c
	if c.Slot != nil {
		slot := *c.Slot
		cp.Slot = &slot
	}
	return &cp
}

// Validate checks that the recorded store type is known and that every
// selector is safe to hand to a driver.
func (c *Configuration) Validate() error {
	if c.KeyStoreType != "" && !c.KeyStoreType.IsValid() {
		return fmt.Errorf("%w: key store type %q", ErrInvalidConfiguration, c.KeyStoreType)
	}
	checks := []error{
		validation.ValidatePath(c.Library),
		validation.ValidatePath(c.PKCS12Path),
		validation.ValidateTokenLabel(c.TokenLabel),
		validation.ValidateAlias(c.Alias),
		validation.ValidateThumbprint(c.Thumbprint),
	}
	for _, err := range checks {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
	}
	return nil
}

// String describes the selection in one line.
func (c *Configuration) String() string {
	if c == nil || c.KeyStoreType == "" {
		return "no key store configured"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "type=%s", c.KeyStoreType)
	if c.Library != "" {
		fmt.Fprintf(&b, " library=%s", c.Library)
	}
	if c.Slot != nil {
		fmt.Fprintf(&b, " slot=%d", *c.Slot)
	}
	if c.TokenLabel != "" {
		fmt.Fprintf(&b, " label=%q", c.TokenLabel)
	}
	if c.PKCS12Path != "" {
		fmt.Fprintf(&b, " path=%s", c.PKCS12Path)
	}
	if c.Alias != "" {
		fmt.Fprintf(&b, " alias=%q", c.Alias)
	}
	if c.Thumbprint != "" {
		fmt.Fprintf(&b, " thumbprint=%s", c.Thumbprint)
	}
	return b.String()
}
