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
	"os"
	"strings"

	"github.com/jeremyhahn/go-jsign/pkg/types"
	"github.com/jeremyhahn/go-jsign/pkg/validation"
)

// Config selects a token and the certificate to sign with.
type Config struct {
	// Library is the path to the PKCS#11 library file.
	// Examples:
	//   - /usr/lib/x86_64-linux-gnu/opensc-pkcs11.so (OpenSC)
	//   - /usr/lib/libeTPkcs11.so (SafeNet eToken)
	//   - /usr/lib/softhsm/libsofthsm2.so (SoftHSM)
	Library string `yaml:"library" json:"library" mapstructure:"library"`

	// Slot is the slot the token sits in. Either Slot or TokenLabel is required.
	Slot *uint `yaml:"slot,omitempty" json:"slot,omitempty" mapstructure:"slot"`

	// TokenLabel is the label of the token to use.
	TokenLabel string `yaml:"label,omitempty" json:"label,omitempty" mapstructure:"label"`

	// Alias selects a certificate by common name; empty selects the first.
	Alias string `yaml:"alias,omitempty" json:"alias,omitempty" mapstructure:"alias"`

	// PIN is the user PIN. It is never persisted.
	PIN types.Password `yaml:"-" json:"-" mapstructure:"-"`

	// LoginNotSupported skips C_Login for tokens without a user PIN.
	LoginNotSupported bool `yaml:"login-not-supported,omitempty" json:"login_not_supported,omitempty" mapstructure:"login-not-supported"`
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}

	if c.Library == "" {
		return fmt.Errorf("%w: library path is required", ErrInvalidConfig)
	}

	if _, err := os.Stat(c.Library); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, c.Library)
	}

	if c.Slot == nil && strings.TrimSpace(c.TokenLabel) == "" {
		return fmt.Errorf("%w: slot or token label is required", ErrInvalidConfig)
	}
	if err := validation.ValidateTokenLabel(c.TokenLabel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if !c.LoginNotSupported {
		if c.PIN == nil {
			return ErrPINRequired
		}
		if len(c.PIN.Bytes()) < 4 {
			return ErrInvalidPINLength
		}
	}

	return nil
}

// String returns a string representation of the config with sensitive data masked.
func (c *Config) String() string {
	pinMask := "****"
	if c.PIN == nil {
		pinMask = "<not set>"
	}

	slot := "<not set>"
	if c.Slot != nil {
		slot = fmt.Sprintf("%d", *c.Slot)
	}

	return fmt.Sprintf("PKCS#11 Config{Library: %s, TokenLabel: %s, Slot: %s, Alias: %s, PIN: %s}",
		c.Library, c.TokenLabel, slot, c.Alias, pinMask)
}
