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
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-jsign/pkg/signing"
	"github.com/jeremyhahn/go-jsign/pkg/storage"
	"github.com/jeremyhahn/go-jsign/pkg/storage/file"
)

const (
	attachedExt = ".p7m"
	detachedExt = ".p7s"

	outputPerms = 0644
)

func newSignCmd(a *app) *cobra.Command {
	var (
		attached bool
		cosign   bool
		outDir   string
	)
	cmd := &cobra.Command{
		Use:   "sign FILE...",
		Short: "Sign files",
		Long: `Sign each FILE and write a DER encoded CMS signature next to it, or into
--out. Detached signatures get the .p7s extension, attached ones .p7m.

With --cosign, a FILE that already is a CMS signature gets an additional
signer and keeps its name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messages := make([]signing.MessageToSign, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path) // #nosec G304 - the user chooses what to sign
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				messages = append(messages, signing.MessageToSign{Name: path, Data: data})
			}

			s, closeFn, err := a.openSession()
			if err != nil {
				return err
			}
			defer closeFn()
			s.SetAllowCoSigning(cosign)

			signed, err := s.SignMessages(cmd.Context(), messages, attached)
			if err != nil {
				return err
			}

			files := make([]SignedFile, 0, len(signed))
			for _, msg := range signed {
				out, err := writeSignature(outDir, msg)
				if err != nil {
					return err
				}
				subjects := make([]string, 0, len(msg.Signers))
				for _, c := range msg.Signers {
					subjects = append(subjects, c.Subject.String())
				}
				files = append(files, SignedFile{
					Input:    msg.Name,
					Output:   out,
					Attached: msg.Attached,
					CoSigned: msg.CoSigned,
					Signers:  subjects,
				})
			}
			return a.printer().PrintSigned(files)
		},
	}
	cmd.Flags().BoolVar(&attached, "attached", false, "embed the content in the signature")
	cmd.Flags().BoolVar(&cosign, "cosign", false, "add a signer to files that already are signatures")
	cmd.Flags().StringVar(&outDir, "out", "", "directory for the signatures (default: next to each file)")
	return cmd
}

// SignatureName returns the file name of the signature for input.
func SignatureName(input string, attached, cosigned bool) string {
	base := filepath.Base(input)
	ext := strings.ToLower(filepath.Ext(base))
	if cosigned && (ext == attachedExt || ext == detachedExt) {
		return base
	}
	if attached {
		return base + attachedExt
	}
	return base + detachedExt
}

func writeSignature(outDir string, msg *signing.SignedMessage) (string, error) {
	dir := outDir
	if dir == "" {
		dir = filepath.Dir(msg.Name)
	}
	store, err := file.New(dir)
	if err != nil {
		return "", err
	}
	defer store.Close()

	name := SignatureName(msg.Name, msg.Attached, msg.CoSigned)
	if err := store.Put(name, msg.Data, &storage.Options{Permissions: outputPerms}); err != nil {
		return "", fmt.Errorf("failed to write signature for %s: %w", msg.Name, err)
	}
	return filepath.Join(store.Root(), name), nil
}
