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
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-jsign/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/logging"
	p11 "github.com/jeremyhahn/go-jsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/resolver"
	"github.com/jeremyhahn/go-jsign/pkg/session"
	"github.com/jeremyhahn/go-jsign/pkg/signing"
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

// Setting keys. Each is bound to a persistent flag of the same name and
// to the JSIGN_ environment variable with dashes turned into underscores.
const (
	KeyConfigDir      = "config-dir"
	KeyLogLevel       = "log-level"
	KeyMetricsFile    = "metrics-file"
	KeyDriversHelpURL = "drivers-help-url"
	KeyAllowPKCS12    = "allow-pkcs12"
	KeyOutput         = "output"

	// EnvPrefix prefixes every environment variable the CLI reads.
	EnvPrefix = "JSIGN"

	// DefaultDriversHelpURL is shown when no certificate is found.
	DefaultDriversHelpURL = "https://github.com/OpenSC/OpenSC/wiki"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigDir holds configuration.yaml; empty means $HOME/.jsign
	ConfigDir string

	// LogLevel is debug, info, warn or error
	LogLevel string

	// MetricsFile receives a Prometheus textfile after each command
	MetricsFile string

	// DriversHelpURL points users at PKCS#11 driver downloads
	DriversHelpURL string

	// AllowPKCS12 offers PKCS#12 files in the configuration dialog
	AllowPKCS12 bool

	// OutputFormat controls output formatting (text, json)
	OutputFormat string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		LogLevel:       "info",
		DriversHelpURL: DefaultDriversHelpURL,
		AllowPKCS12:    true,
		OutputFormat:   string(OutputFormatText),
	}
}

// newViper returns a viper instance with the CLI defaults and environment
// binding in place.
func newViper() *viper.Viper {
	v := viper.New()
	def := NewConfig()
	v.SetDefault(KeyConfigDir, def.ConfigDir)
	v.SetDefault(KeyLogLevel, def.LogLevel)
	v.SetDefault(KeyMetricsFile, def.MetricsFile)
	v.SetDefault(KeyDriversHelpURL, def.DriversHelpURL)
	v.SetDefault(KeyAllowPKCS12, def.AllowPKCS12)
	v.SetDefault(KeyOutput, def.OutputFormat)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the settings from v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	c := &Config{
		ConfigDir:      v.GetString(KeyConfigDir),
		LogLevel:       strings.ToLower(v.GetString(KeyLogLevel)),
		MetricsFile:    v.GetString(KeyMetricsFile),
		DriversHelpURL: v.GetString(KeyDriversHelpURL),
		AllowPKCS12:    v.GetBool(KeyAllowPKCS12),
		OutputFormat:   strings.ToLower(v.GetString(KeyOutput)),
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch OutputFormat(c.OutputFormat) {
	case OutputFormatText, OutputFormatJSON:
	default:
		return nil, fmt.Errorf("unknown output format: %s", c.OutputFormat)
	}
	return c, nil
}

// Logger returns a logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *logging.Logger {
	return logging.NewWithWriter(w, c.LogLevel == "debug")
}

// Environment describes where the commands read from and write to.
type Environment struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	TermFD int
}

// DefaultEnvironment uses the process standard streams.
func DefaultEnvironment() *Environment {
	return &Environment{In: os.Stdin, Out: os.Stdout, Err: os.Stderr, TermFD: int(os.Stdin.Fd())}
}

// NewSession wires a signing session with terminal dialogs. The returned
// close function closes the session and its configuration store.
func (c *Config) NewSession(env *Environment, logger *logging.Logger) (*session.Session, func(), error) {
	store, err := config.NewFileManager(c.ConfigDir, config.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	prompter := NewPrompter(env.In, env.Err, env.TermFD)
	prompter.SetDriversHelpURL(c.DriversHelpURL)

	bindOpts := []p11.Option{p11.WithLogger(logger)}
	factory := &resolver.DefaultFactory{
		Secret:        prompter.Secret,
		PKCS11Options: bindOpts,
	}
	prompter.SetFactory(factory)

	catalog := p11.NewCatalog(
		p11.WithExtraLibrary("Configured", os.Getenv("JSIGN_PKCS11_LIBRARY")),
		p11.WithBindOptions(bindOpts...),
		p11.WithCatalogLogger(logger),
	)
	discoverer := resolver.MultiDiscoverer{
		&pkcs11.Discoverer{
			Catalog: catalog,
			PIN:     tokenPIN(prompter),
			Options: bindOpts,
			Logger:  logger,
		},
		&resolver.StoreDiscoverer{},
	}

	s := session.New(session.Options{
		ConfigStore:  store,
		Factory:      factory,
		Discoverer:   discoverer,
		Selector:     prompter,
		NotFound:     prompter,
		Configurator: prompter,
		Drivers:      catalog,
		Logger:       logger,
		AllowPKCS12:  c.AllowPKCS12,
		Reporter: &signing.Reporter{
			Progress: func(msg string) { fmt.Fprintln(env.Err, msg) },
			Log:      func(msg string) { logger.Debug(msg) },
		},
		OnPersistenceError: func(err *resolver.PersistenceError) {
			fmt.Fprintf(env.Err, "warning: %v\n", err)
		},
	})

	closeFn := func() {
		logger.MaybeError(s.Close())
		logger.MaybeError(store.Close())
	}
	return s, closeFn, nil
}

func tokenPIN(p *Prompter) pkcs11.PINFunc {
	return func(ctx context.Context, driver p11.Driver, slot p11.SlotID, label string) (types.Password, error) {
		name := label
		if name == "" {
			name = fmt.Sprintf("slot %d", slot)
		}
		return p.Secret(ctx, fmt.Sprintf("PIN for %s token %s", driver.Name, name))
	}
}
