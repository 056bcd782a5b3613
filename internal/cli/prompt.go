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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-jsign/pkg/resolver"
	"github.com/jeremyhahn/go-jsign/pkg/types"
)

// maxAttempts bounds how often an unparseable answer is asked again.
const maxAttempts = 3

// Prompter implements the resolver dialogs and secret entry on a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer

	fd           int
	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)

	factory resolver.Factory
	helpURL string

	mu      sync.Mutex
	allowed []types.StoreType
}

var (
	_ resolver.Selector       = (*Prompter)(nil)
	_ resolver.NotFoundPrompt = (*Prompter)(nil)
	_ resolver.Configurator   = (*Prompter)(nil)
)

// NewPrompter reads answers from in and writes questions to out. fd is the
// descriptor checked for a terminal before reading secrets without echo.
func NewPrompter(in io.Reader, out io.Writer, fd int) *Prompter {
	return &Prompter{
		in:           bufio.NewReader(in),
		out:          out,
		fd:           fd,
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
		allowed:      append([]types.StoreType(nil), types.StoreTypes...),
	}
}

// SetFactory sets the factory used to open the store chosen in Configure.
func (p *Prompter) SetFactory(f resolver.Factory) {
	p.factory = f
}

// SetDriversHelpURL sets the link shown when no certificate is found.
func (p *Prompter) SetDriversHelpURL(url string) {
	p.helpURL = url
}

// RestrictStoreTypes limits the store types offered by Configure.
func (p *Prompter) RestrictStoreTypes(allowed []types.StoreType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed = append([]types.StoreType(nil), allowed...)
}

func (p *Prompter) storeTypes() []types.StoreType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.StoreType(nil), p.allowed...)
}

// Secret asks for a PIN or password. Input is not echoed on a terminal.
func (p *Prompter) Secret(ctx context.Context, prompt string) (types.Password, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fmt.Fprintf(p.out, "%s: ", prompt)
	if p.isTerminal(p.fd) {
		b, err := p.readPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret: %w", err)
		}
		defer clear(b)
		return types.NewPassword(b), nil
	}
	line, err := p.readLine(ctx)
	if err != nil && line == "" {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return types.NewPasswordFromString(line), nil
}

// Select lists the candidates and lets the user pick one by number.
func (p *Prompter) Select(ctx context.Context, candidates []backend.Helper) (backend.Helper, resolver.Outcome, error) {
	fmt.Fprintln(p.out, "Signing certificates found:")
	for i, h := range candidates {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, describeHelper(h))
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		fmt.Fprintf(p.out, "Select a certificate [1-%d], c to configure, q to cancel: ", len(candidates))
		line, err := p.readLine(ctx)
		if err != nil && line == "" {
			return nil, resolver.OutcomeCancel, ignoreEOF(err)
		}
		idx, outcome, ok := ParseSelection(line, len(candidates))
		if !ok {
			fmt.Fprintf(p.out, "Invalid choice %q\n", strings.TrimSpace(line))
			continue
		}
		if outcome == resolver.OutcomeConfirmed {
			return candidates[idx], outcome, nil
		}
		return nil, outcome, nil
	}
	return nil, resolver.OutcomeCancel, nil
}

// CertificateNotFound explains that nothing was found and asks what to do.
func (p *Prompter) CertificateNotFound(ctx context.Context, drivers []pkcs11.Driver) (resolver.Outcome, error) {
	fmt.Fprintln(p.out, "No signing certificate was found.")
	if len(drivers) == 0 {
		fmt.Fprintln(p.out, "No PKCS#11 driver is installed.")
	} else {
		fmt.Fprintln(p.out, "Installed PKCS#11 drivers:")
		for _, d := range drivers {
			fmt.Fprintf(p.out, "  %s (%s): %d token(s)\n", d.Name, d.Library, len(d.Tokens))
		}
	}
	if p.helpURL != "" {
		fmt.Fprintf(p.out, "Driver downloads: %s\n", p.helpURL)
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		fmt.Fprint(p.out, "[r]etry, [c]onfigure, [q]uit: ")
		line, err := p.readLine(ctx)
		if err != nil && line == "" {
			return resolver.OutcomeCancel, ignoreEOF(err)
		}
		outcome, ok := ParseNotFoundAnswer(line)
		if ok {
			return outcome, nil
		}
		fmt.Fprintf(p.out, "Invalid choice %q\n", strings.TrimSpace(line))
	}
	return resolver.OutcomeCancel, nil
}

// Configure asks for a store type and its location, starting from current,
// then opens it through the factory.
func (p *Prompter) Configure(ctx context.Context, current *config.Configuration) (backend.Helper, resolver.Outcome, error) {
	if p.factory == nil {
		return nil, resolver.OutcomeCancel, errors.New("cli: no key store factory")
	}
	cfg, outcome, err := p.ask(ctx, current)
	if err != nil || outcome != resolver.OutcomeConfirmed {
		return nil, outcome, err
	}
	h, err := p.factory.FromConfiguration(ctx, cfg)
	if err != nil {
		return nil, resolver.OutcomeCancel, err
	}
	return h, resolver.OutcomeConfirmed, nil
}

func (p *Prompter) ask(ctx context.Context, current *config.Configuration) (*config.Configuration, resolver.Outcome, error) {
	if current == nil {
		current = &config.Configuration{}
	}
	allowed := p.storeTypes()
	if len(allowed) == 0 {
		return nil, resolver.OutcomeCancel, nil
	}

	fmt.Fprintln(p.out, "Key store types:")
	for i, st := range allowed {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, st)
	}
	var st types.StoreType
	for attempt := 0; st == "" && attempt < maxAttempts; attempt++ {
		fmt.Fprintf(p.out, "Key store type [%s]: ", current.KeyStoreType)
		line, err := p.readLine(ctx)
		if err != nil && line == "" {
			return nil, resolver.OutcomeCancel, ignoreEOF(err)
		}
		chosen, ok := ParseStoreChoice(line, allowed, current.KeyStoreType)
		if !ok {
			fmt.Fprintf(p.out, "Invalid choice %q\n", strings.TrimSpace(line))
			continue
		}
		st = chosen
	}
	if st == "" {
		return nil, resolver.OutcomeCancel, nil
	}

	cfg := &config.Configuration{KeyStoreType: st}
	if current.KeyStoreType == st {
		cfg = current.Clone()
	}

	var err error
	switch st {
	case types.StorePKCS11:
		if cfg.Library, err = p.askString(ctx, "PKCS#11 library", cfg.Library); err != nil {
			return nil, resolver.OutcomeCancel, err
		}
		slot := ""
		if cfg.Slot != nil {
			slot = strconv.FormatUint(uint64(*cfg.Slot), 10)
		}
		if slot, err = p.askString(ctx, "Slot (empty to use the token label)", slot); err != nil {
			return nil, resolver.OutcomeCancel, err
		}
		cfg.Slot = nil
		if slot != "" {
			n, perr := strconv.ParseUint(slot, 10, 32)
			if perr != nil {
				return nil, resolver.OutcomeCancel, fmt.Errorf("invalid slot %q: %w", slot, perr)
			}
			s := uint(n)
			cfg.Slot = &s
		}
		if cfg.Slot == nil {
			if cfg.TokenLabel, err = p.askString(ctx, "Token label", cfg.TokenLabel); err != nil {
				return nil, resolver.OutcomeCancel, err
			}
		}
	case types.StorePKCS12:
		if cfg.PKCS12Path, err = p.askString(ctx, "PKCS#12 file", cfg.PKCS12Path); err != nil {
			return nil, resolver.OutcomeCancel, err
		}
	case types.StoreMSCAPI:
		if cfg.Thumbprint, err = p.askString(ctx, "Certificate thumbprint (empty to match by alias)", cfg.Thumbprint); err != nil {
			return nil, resolver.OutcomeCancel, err
		}
	}
	if cfg.Alias, err = p.askString(ctx, "Certificate alias (empty for the first)", cfg.Alias); err != nil {
		return nil, resolver.OutcomeCancel, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolver.OutcomeCancel, err
	}
	return cfg, resolver.OutcomeConfirmed, nil
}

func (p *Prompter) askString(ctx context.Context, label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.readLine(ctx)
	if err != nil && line == "" && !errors.Is(err, io.EOF) {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return def, nil
	}
	return line, nil
}

func (p *Prompter) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := p.in.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ParseSelection maps an answer to the candidate list prompt. ok is false
// when the answer should be asked again.
func ParseSelection(input string, n int) (index int, outcome resolver.Outcome, ok bool) {
	answer := strings.ToLower(strings.TrimSpace(input))
	switch answer {
	case "", "q", "quit", "cancel":
		return -1, resolver.OutcomeCancel, true
	case "c", "config", "configure":
		return -1, resolver.OutcomeOpenConfiguration, true
	}
	i, err := strconv.Atoi(answer)
	if err != nil || i < 1 || i > n {
		return -1, resolver.OutcomeCancel, false
	}
	return i - 1, resolver.OutcomeConfirmed, true
}

// ParseNotFoundAnswer maps an answer to the certificate not found prompt.
// An empty answer retries.
func ParseNotFoundAnswer(input string) (resolver.Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "r", "retry":
		return resolver.OutcomeRetry, true
	case "c", "config", "configure":
		return resolver.OutcomeOpenConfiguration, true
	case "q", "quit", "cancel":
		return resolver.OutcomeCancel, true
	}
	return resolver.OutcomeCancel, false
}

// ParseStoreChoice accepts a number into allowed or a store type name. An
// empty answer keeps def when it is allowed.
func ParseStoreChoice(input string, allowed []types.StoreType, def types.StoreType) (types.StoreType, bool) {
	answer := strings.TrimSpace(input)
	if answer == "" {
		answer = def.String()
	}
	if i, err := strconv.Atoi(answer); err == nil {
		if i < 1 || i > len(allowed) {
			return "", false
		}
		return allowed[i-1], true
	}
	st, err := types.ParseStoreType(answer)
	if err != nil {
		return "", false
	}
	for _, a := range allowed {
		if a == st {
			return st, true
		}
	}
	return "", false
}

func describeHelper(h backend.Helper) string {
	cert := h.Certificate()
	if cert == nil {
		return fmt.Sprintf("[%s] %s", h.Type(), h.Alias())
	}
	return fmt.Sprintf("[%s] %s (issued by %s, expires %s)", h.Type(), h.Alias(),
		cert.Issuer.CommonName, cert.NotAfter.Format("2006-01-02"))
}
