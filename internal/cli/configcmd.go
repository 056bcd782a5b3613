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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the remembered key store",
	}
	cmd.AddCommand(newConfigShowCmd(a))
	cmd.AddCommand(newConfigClearCmd(a))
	cmd.AddCommand(newConfigSetCmd(a))
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the remembered key store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := a.openSession()
			if err != nil {
				return err
			}
			defer closeFn()
			return a.printer().PrintConfiguration(s.Configuration())
		},
	}
}

func newConfigClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the remembered key store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := a.openSession()
			if err != nil {
				return err
			}
			defer closeFn()
			return a.printer().PrintConfiguration(s.ClearConfiguration())
		},
	}
}

func newConfigSetCmd(a *app) *cobra.Command {
	var (
		storeType  string
		library    string
		slot       int
		label      string
		pkcs12Path string
		alias      string
		thumbprint string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Choose the key store",
		Long: `Without flags, walk through the key store dialog and open the chosen
store to check it. With --type, record the given settings as they are.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := a.openSession()
			if err != nil {
				return err
			}
			defer closeFn()

			if storeType == "" {
				if _, err := s.ShowConfiguration(cmd.Context()); err != nil {
					return err
				}
				return a.printer().PrintConfiguration(s.Configuration())
			}

			st, err := types.ParseStoreType(storeType)
			if err != nil {
				return fmt.Errorf("%w: %q", err, storeType)
			}
			if st == types.StorePKCS12 && !a.cfg.AllowPKCS12 {
				return fmt.Errorf("PKCS#12 key stores are disabled (--%s)", KeyAllowPKCS12)
			}
			cfg := &config.Configuration{
				KeyStoreType: st,
				Library:      library,
				TokenLabel:   label,
				PKCS12Path:   pkcs12Path,
				Alias:        alias,
				Thumbprint:   thumbprint,
			}
			if cmd.Flags().Changed("slot") {
				if slot < 0 {
					return fmt.Errorf("invalid slot %d", slot)
				}
				u := uint(slot)
				cfg.Slot = &u
			}
			if err := s.WriteConfiguration(cfg); err != nil {
				return err
			}
			return a.printer().PrintConfiguration(s.Configuration())
		},
	}
	cmd.Flags().StringVar(&storeType, "type", "", "key store type (pkcs11, mscapi, pkcs12)")
	cmd.Flags().StringVar(&library, "library", "", "PKCS#11 module path")
	cmd.Flags().IntVar(&slot, "slot", 0, "PKCS#11 slot")
	cmd.Flags().StringVar(&label, "label", "", "PKCS#11 token label")
	cmd.Flags().StringVar(&pkcs12Path, "pkcs12", "", "PKCS#12 or PEM file")
	cmd.Flags().StringVar(&alias, "alias", "", "certificate alias")
	cmd.Flags().StringVar(&thumbprint, "thumbprint", "", "Windows certificate thumbprint")
	return cmd
}
