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
// Package validation checks user supplied key store selectors before they
// are persisted or handed to a driver.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTokenLabel is the size of the CK_TOKEN_INFO label field.
	MaxTokenLabel = 32

	maxPath  = 4096
	maxAlias = 255
	maxLog   = 1000
)

// thumbprintPattern matches a hex digest once separators are removed.
var thumbprintPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

func checkText(what, s string, max int) error {
	if strings.Contains(s, "\x00") {
		return fmt.Errorf("%s contains null byte", what)
	}
	if len(s) > max {
		return fmt.Errorf("%s too long (max %d bytes)", what, max)
	}
	for _, r := range s {
		if r < 32 || r == 127 {
			return fmt.Errorf("%s contains control characters", what)
		}
	}
	return nil
}

// ValidatePath validates a module or key store file path. Empty paths are
// accepted; whether one is required depends on the store type.
func ValidatePath(path string) error {
	return checkText("path", path, maxPath)
}

// ValidateTokenLabel validates a PKCS#11 token label. Trailing blanks are
// padding and do not count towards the limit.
func ValidateTokenLabel(label string) error {
	return checkText("token label", strings.TrimRight(label, " "), MaxTokenLabel)
}

// ValidateAlias validates a certificate alias.
func ValidateAlias(alias string) error {
	return checkText("alias", alias, maxAlias)
}

// NormalizeThumbprint strips the separators certificate viewers insert and
// upper-cases the digest.
func NormalizeThumbprint(thumbprint string) string {
	r := strings.NewReplacer(" ", "", ":", "", "-", "", "\u200e", "")
	return strings.ToUpper(r.Replace(thumbprint))
}

// ValidateThumbprint validates a certificate thumbprint. Any hex digest of
// even length is accepted.
func ValidateThumbprint(thumbprint string) error {
	if thumbprint == "" {
		return nil
	}
	t := NormalizeThumbprint(thumbprint)
	if !thumbprintPattern.MatchString(t) {
		return fmt.Errorf("thumbprint contains invalid characters (allowed: 0-9, A-F)")
	}
	if len(t)%2 != 0 {
		return fmt.Errorf("thumbprint has odd length")
	}
	if len(t) > 128 {
		return fmt.Errorf("thumbprint too long (max 128 hex digits)")
	}
	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > maxLog {
		cut := maxLog
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "...[truncated]"
	}

	return s
}
