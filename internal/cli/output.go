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
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-jsign/pkg/certstore"
	"github.com/jeremyhahn/go-jsign/pkg/config"
	"github.com/jeremyhahn/go-jsign/pkg/pkcs11"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// SignedFile is one output of the sign command.
type SignedFile struct {
	Input    string   `json:"input"`
	Output   string   `json:"output"`
	Attached bool     `json:"attached"`
	CoSigned bool     `json:"cosigned"`
	Signers  []string `json:"signers"`
}

// PrintSigned prints the files written by the sign command
func (p *Printer) PrintSigned(files []SignedFile) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"signed": files,
		})
	case OutputFormatText:
		for _, f := range files {
			verb := "Signed"
			if f.CoSigned {
				verb = "Co-signed"
			}
			fmt.Fprintf(p.writer, "%s %s -> %s\n", verb, f.Input, f.Output)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

type signerInfo struct {
	Subject    string `json:"subject"`
	Issuer     string `json:"issuer"`
	Serial     string `json:"serial"`
	Thumbprint string `json:"thumbprint"`
	NotAfter   string `json:"not_after"`
}

func newSignerInfo(cert *x509.Certificate) signerInfo {
	return signerInfo{
		Subject:    cert.Subject.String(),
		Issuer:     cert.Issuer.String(),
		Serial:     cert.SerialNumber.Text(16),
		Thumbprint: certstore.Thumbprint(cert),
		NotAfter:   cert.NotAfter.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// PrintSigners prints the certificates that produced a verified signature
func (p *Printer) PrintSigners(signers []*x509.Certificate) error {
	infos := make([]signerInfo, 0, len(signers))
	for _, c := range signers {
		infos = append(infos, newSignerInfo(c))
	}
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "valid",
			"signers": infos,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Signature valid, %d signer(s):\n", len(infos))
		for i, s := range infos {
			fmt.Fprintf(p.writer, "  %d) %s\n", i+1, s.Subject)
			fmt.Fprintf(p.writer, "     Issuer:     %s\n", s.Issuer)
			fmt.Fprintf(p.writer, "     Serial:     %s\n", s.Serial)
			fmt.Fprintf(p.writer, "     Thumbprint: %s\n", s.Thumbprint)
			fmt.Fprintf(p.writer, "     Expires:    %s\n", s.NotAfter)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSlots prints the token-bearing slots of a bound module
func (p *Printer) PrintSlots(w *pkcs11.Wrapper) error {
	labels := w.SlotLabels()
	switch p.format {
	case OutputFormatJSON:
		slots := make([]map[string]interface{}, 0, len(w.Slots()))
		for _, s := range w.Slots() {
			entry := map[string]interface{}{"slot": s}
			if label, ok := labels[s]; ok {
				entry["label"] = label
			}
			slots = append(slots, entry)
		}
		return p.printJSON(map[string]interface{}{
			"library":  w.Library(),
			"cryptoki": w.Layout(),
			"slots":    slots,
		})
	case OutputFormatText:
		info := w.Info()
		fmt.Fprintf(p.writer, "Library:  %s\n", w.Library())
		fmt.Fprintf(p.writer, "Vendor:   %s\n", strings.TrimSpace(info.ManufacturerID))
		fmt.Fprintf(p.writer, "Cryptoki: %s\n", w.Layout())
		if len(w.Slots()) == 0 {
			fmt.Fprintln(p.writer, "No tokens present")
			return nil
		}
		for _, s := range w.Slots() {
			label, ok := labels[s]
			if !ok {
				label = "(no token information)"
			}
			fmt.Fprintf(p.writer, "  slot %d: %s\n", s, label)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintDrivers prints the PKCS#11 driver catalog
func (p *Printer) PrintDrivers(drivers []pkcs11.Driver, helpURL string) error {
	switch p.format {
	case OutputFormatJSON:
		out := make([]map[string]interface{}, 0, len(drivers))
		for _, d := range drivers {
			entry := map[string]interface{}{
				"name":      d.Name,
				"library":   d.Library,
				"installed": d.Installed,
			}
			if d.Tokens != nil {
				entry["tokens"] = d.Tokens
			}
			if d.Err != nil {
				entry["error"] = d.Err.Error()
			}
			out = append(out, entry)
		}
		return p.printJSON(map[string]interface{}{
			"drivers":  out,
			"help_url": helpURL,
		})
	case OutputFormatText:
		installed := 0
		for _, d := range drivers {
			if !d.Installed {
				continue
			}
			installed++
			fmt.Fprintf(p.writer, "%s (%s)\n", d.Name, d.Library)
			if d.Err != nil {
				fmt.Fprintf(p.writer, "  unusable: %v\n", d.Err)
				continue
			}
			slots := make([]pkcs11.SlotID, 0, len(d.Tokens))
			for s := range d.Tokens {
				slots = append(slots, s)
			}
			sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
			for _, s := range slots {
				fmt.Fprintf(p.writer, "  slot %d: %s\n", s, d.Tokens[s])
			}
		}
		if installed == 0 {
			fmt.Fprintln(p.writer, "No PKCS#11 driver installed")
		}
		if helpURL != "" {
			fmt.Fprintf(p.writer, "Driver downloads: %s\n", helpURL)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintConfiguration prints the persisted key store selection
func (p *Printer) PrintConfiguration(cfg *config.Configuration) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(cfg)
	case OutputFormatText:
		fmt.Fprintln(p.writer, cfg.String())
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
