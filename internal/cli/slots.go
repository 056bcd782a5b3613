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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-jsign/pkg/pkcs11"
)

func newSlotsCmd(a *app) *cobra.Command {
	var library string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List the tokens a PKCS#11 module can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := pkcs11.Bind(library, pkcs11.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer func() { a.logger.MaybeError(w.Close()) }()
			return a.printer().PrintSlots(w)
		},
	}
	cmd.Flags().StringVar(&library, "library", "", "path to the PKCS#11 module")
	_ = cmd.MarkFlagRequired("library") // flag is registered above
	return cmd
}

func newDriversCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List known PKCS#11 drivers and their tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := pkcs11.NewCatalog(
				pkcs11.WithBindOptions(pkcs11.WithLogger(a.logger)),
				pkcs11.WithCatalogLogger(a.logger),
			)
			installed := catalog.Installed(cmd.Context())
			byLibrary := make(map[string]pkcs11.Driver, len(installed))
			for _, d := range installed {
				byLibrary[d.Library] = d
			}
			drivers := catalog.Drivers()
			for i, d := range drivers {
				if bound, ok := byLibrary[d.Library]; ok {
					drivers[i] = bound
				}
			}
			return a.printer().PrintDrivers(drivers, a.cfg.DriversHelpURL)
		},
	}
}
