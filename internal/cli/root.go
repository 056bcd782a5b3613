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

// Package cli implements the jsign command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-jsign/pkg/logging"
	"github.com/jeremyhahn/go-jsign/pkg/metrics"
	"github.com/jeremyhahn/go-jsign/pkg/session"
)

// app carries the state shared by every command of one invocation.
type app struct {
	env    *Environment
	v      *viper.Viper
	cfg    *Config
	logger *logging.Logger

	// newSession is replaced in tests.
	newSession func() (*session.Session, func(), error)
}

func (a *app) printer() *Printer {
	return NewPrinter(a.cfg.OutputFormat, a.env.Out)
}

func (a *app) openSession() (*session.Session, func(), error) {
	if a.newSession != nil {
		return a.newSession()
	}
	return a.cfg.NewSession(a.env, a.logger)
}

// NewRootCommand builds the jsign command tree on env.
func NewRootCommand(env *Environment) *cobra.Command {
	a := &app{env: env, v: newViper()}

	rootCmd := &cobra.Command{
		Use:   "jsign",
		Short: "jsign - CMS document signing with smart cards, tokens and certificate stores",
		Long: `jsign signs files with a certificate held on a PKCS#11 token, in the
Windows certificate store or in a PKCS#12 file.

The key store used last is remembered in $HOME/.jsign/configuration.yaml.
When it is missing or unusable, jsign looks for certificates on every
installed token and lets you pick one.

Every flag can also be set with a JSIGN_ environment variable, for example
JSIGN_LOG_LEVEL=debug.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.Logger(env.Err)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg == nil || a.cfg.MetricsFile == "" {
				return nil
			}
			if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
				return fmt.Errorf("failed to write metrics: %w", err)
			}
			return nil
		},
	}
	rootCmd.SetIn(env.In)
	rootCmd.SetOut(env.Out)
	rootCmd.SetErr(env.Err)

	flags := rootCmd.PersistentFlags()
	def := NewConfig()
	flags.String(KeyConfigDir, def.ConfigDir, "directory holding configuration.yaml (default $HOME/.jsign)")
	flags.String(KeyLogLevel, def.LogLevel, "log level (debug, info, warn, error)")
	flags.String(KeyMetricsFile, def.MetricsFile, "write Prometheus metrics to this textfile after each command")
	flags.String(KeyDriversHelpURL, def.DriversHelpURL, "link shown when no signing certificate is found")
	flags.Bool(KeyAllowPKCS12, def.AllowPKCS12, "offer PKCS#12 files in the key store configuration dialog")
	flags.StringP(KeyOutput, "o", def.OutputFormat, "output format (text, json)")
	for _, key := range []string{KeyConfigDir, KeyLogLevel, KeyMetricsFile, KeyDriversHelpURL, KeyAllowPKCS12, KeyOutput} {
		_ = a.v.BindPFlag(key, flags.Lookup(key)) // keys are registered above
	}

	rootCmd.AddCommand(newVersionCmd(a))
	rootCmd.AddCommand(newSignCmd(a))
	rootCmd.AddCommand(newVerifyCmd(a))
	rootCmd.AddCommand(newSlotsCmd(a))
	rootCmd.AddCommand(newDriversCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	return rootCmd
}

// Execute runs the root command on the process streams. Interrupts cancel
// the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	env := DefaultEnvironment()
	cmd := NewRootCommand(env)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		_ = NewPrinter(string(OutputFormatText), env.Err).PrintError(err) // best-effort
	}
	return err
}
