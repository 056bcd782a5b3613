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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotSharedObject is returned when a module file is not ELF, PE or Mach-O.
var ErrNotSharedObject = errors.New("pkcs11: not a native shared library")

var objectMagics = []struct {
	format string
	magic  []byte
}{
	{"ELF", []byte{0x7f, 'E', 'L', 'F'}},
	{"PE", []byte{'M', 'Z'}},
	{"Mach-O", []byte{0xcf, 0xfa, 0xed, 0xfe}},
	{"Mach-O", []byte{0xce, 0xfa, 0xed, 0xfe}},
	{"Mach-O universal", []byte{0xca, 0xfe, 0xba, 0xbe}},
}

// sniffObjectFormat reads the header of path and names its object format.
func sniffObjectFormat(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - module path is chosen by the operator
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: %s is empty", ErrNotSharedObject, path)
		}
		return "", err
	}
	header = header[:n]

	for _, m := range objectMagics {
		if bytes.HasPrefix(header, m.magic) {
			return m.format, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotSharedObject, path)
}
