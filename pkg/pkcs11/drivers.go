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
	"os"
	"runtime"

	"github.com/jeremyhahn/go-jsign/pkg/logging"
)

// Driver is a PKCS#11 module the host may have installed.
type Driver struct {
	// Name is the vendor/product name shown to the user.
	Name string

	// Library is the module path.
	Library string

	// Installed is true when Library exists on disk.
	Installed bool

	// Slots lists every token-bearing slot in native order, including
	// slots whose token info was unavailable. Only set for installed
	// drivers that bound successfully.
	Slots []SlotID

	// Tokens maps the slots of Slots that reported token info to their
	// labels.
	Tokens map[SlotID]string

	// Err holds the bind failure for an installed driver, if any.
	Err error
}

var knownDrivers = map[string][]Driver{
	"linux": {
		{Name: "OpenSC", Library: "/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so"},
		{Name: "OpenSC", Library: "/usr/lib64/opensc-pkcs11.so"},
		{Name: "OpenSC", Library: "/usr/lib/opensc-pkcs11.so"},
		{Name: "SafeNet eToken", Library: "/usr/lib/libeTPkcs11.so"},
		{Name: "SafeNet eToken", Library: "/usr/lib/libeToken.so"},
		{Name: "Thales IDPrime", Library: "/usr/lib/libIDPrimePKCS11.so"},
		{Name: "Gemalto Classic Client", Library: "/usr/lib/libgclib.so"},
		{Name: "A.E.T. SafeSign", Library: "/usr/lib/libaetpkss.so"},
		{Name: "Watchdata", Library: "/usr/lib/watchdata/lib/libwdpkcs.so"},
		{Name: "YubiKey PIV", Library: "/usr/lib/x86_64-linux-gnu/libykcs11.so"},
		{Name: "SoftHSM", Library: "/usr/lib/softhsm/libsofthsm2.so"},
	},
	"darwin": {
		{Name: "OpenSC", Library: "/Library/OpenSC/lib/opensc-pkcs11.so"},
		{Name: "SafeNet eToken", Library: "/usr/local/lib/libeTPkcs11.dylib"},
		{Name: "A.E.T. SafeSign", Library: "/usr/local/lib/libaetpkss.dylib"},
		{Name: "YubiKey PIV", Library: "/usr/local/lib/libykcs11.dylib"},
		{Name: "SoftHSM", Library: "/usr/local/lib/softhsm/libsofthsm2.so"},
	},
	"windows": {
		{Name: "OpenSC", Library: `C:\Windows\System32\opensc-pkcs11.dll`},
		{Name: "SafeNet eToken", Library: `C:\Windows\System32\eTPKCS11.dll`},
		{Name: "Thales IDPrime", Library: `C:\Windows\System32\IDPrimePKCS11.dll`},
		{Name: "Gemalto Classic Client", Library: `C:\Windows\System32\gclib.dll`},
		{Name: "A.E.T. SafeSign", Library: `C:\Windows\System32\aetpkss1.dll`},
		{Name: "Watchdata", Library: `C:\Windows\System32\WDPKCS.dll`},
		{Name: "Oberthur", Library: `C:\Windows\System32\OcsCryptoki.dll`},
	},
}

// KnownDrivers returns the well-known module locations for goos.
func KnownDrivers(goos string) []Driver {
	drivers := knownDrivers[goos]
	out := make([]Driver, len(drivers))
	copy(out, drivers)
	return out
}

// Catalog lists the PKCS#11 drivers installed on the host and the tokens
// each of them can currently see.
type Catalog struct {
	drivers []Driver
	stat    func(string) (os.FileInfo, error)
	opts    []Option
	logger  *logging.Logger
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithDrivers replaces the well-known driver list.
func WithDrivers(drivers ...Driver) CatalogOption {
	return func(c *Catalog) {
		c.drivers = drivers
	}
}

// WithExtraLibrary puts an operator supplied module first in the list.
func WithExtraLibrary(name, library string) CatalogOption {
	return func(c *Catalog) {
		if library == "" {
			return
		}
		c.drivers = append([]Driver{{Name: name, Library: library}}, c.drivers...)
	}
}

// WithBindOptions sets the options used to bind each installed driver.
func WithBindOptions(opts ...Option) CatalogOption {
	return func(c *Catalog) {
		c.opts = opts
	}
}

// WithCatalogLogger sets the catalog logger.
func WithCatalogLogger(logger *logging.Logger) CatalogOption {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// NewCatalog creates a catalog seeded with the drivers known for the
// running OS.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		drivers: KnownDrivers(runtime.GOOS),
		stat:    os.Stat,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.DefaultLogger()
	}
	return c
}

// Drivers returns every known driver with Installed filled in. Nothing is
// bound.
func (c *Catalog) Drivers() []Driver {
	out := make([]Driver, 0, len(c.drivers))
	seen := make(map[string]bool, len(c.drivers))
	for _, d := range c.drivers {
		if seen[d.Library] {
			continue
		}
		seen[d.Library] = true
		_, err := c.stat(d.Library)
		d.Installed = err == nil
		out = append(out, d)
	}
	return out
}

// Installed binds each installed driver and records its tokens. Bind
// failures are kept on Driver.Err and never abort the scan. The scan stops
// early when ctx is done.
func (c *Catalog) Installed(ctx context.Context) []Driver {
	var out []Driver
	for _, d := range c.Drivers() {
		if ctx.Err() != nil {
			break
		}
		if !d.Installed {
			continue
		}
		w, err := Bind(d.Library, c.opts...)
		if err != nil {
			c.logger.Warnf("pkcs11: driver %s (%s) unusable: %v", d.Name, d.Library, err)
			d.Err = err
			out = append(out, d)
			continue
		}
		d.Slots = w.Slots()
		d.Tokens = w.SlotLabels()
		c.logger.MaybeError(w.Close())
		out = append(out, d)
	}
	return out
}
