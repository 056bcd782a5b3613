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
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-jsign/pkg/metrics"
	"github.com/jeremyhahn/go-jsign/pkg/signing"
)

func newVerifyCmd(a *app) *cobra.Command {
	var contentPath string
	cmd := &cobra.Command{
		Use:   "verify SIGNATURE",
		Short: "Check a CMS signature",
		Long: `Check every signature in SIGNATURE and print the signer certificates.
Detached signatures need --content. Certificate chains are not checked
against any trust store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := os.ReadFile(args[0]) // #nosec G304 - user supplied path
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			var content []byte
			if contentPath != "" {
				if content, err = os.ReadFile(contentPath); err != nil { // #nosec G304 - user supplied path
					return fmt.Errorf("failed to read %s: %w", contentPath, err)
				}
			}

			start := time.Now()
			signers, err := signing.Verify(signed, content)
			if err != nil {
				metrics.RecordOperation(metrics.OpVerify, "", metrics.StatusError, time.Since(start).Seconds())
				metrics.RecordError(metrics.OpVerify, "", "invalid_signature")
				return err
			}
			metrics.RecordOperation(metrics.OpVerify, "", metrics.StatusSuccess, time.Since(start).Seconds())
			return a.printer().PrintSigners(signers)
		},
	}
	cmd.Flags().StringVar(&contentPath, "content", "", "signed content for detached signatures")
	return cmd
}
