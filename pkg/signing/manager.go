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

package signing

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/jeremyhahn/go-jsign/pkg/backend"
	"github.com/jeremyhahn/go-jsign/pkg/correlation"
	"github.com/jeremyhahn/go-jsign/pkg/logging"
	"github.com/jeremyhahn/go-jsign/pkg/metrics"
)

// Manager signs batches of messages.
type Manager struct {
	logger *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a signing manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.DefaultLogger()
	}
	return m
}

// SignMessages signs each message with the helper's key and returns the
// results in input order. The first failure aborts the batch: no partial
// results are returned and the error is a *SigningError naming the message.
func (m *Manager) SignMessages(ctx context.Context, helper backend.Helper, messages []MessageToSign,
	opts Options, reporter *Reporter) ([]*SignedMessage, error) {

	if len(messages) == 0 {
		return nil, &SigningError{Index: -1, Err: ErrNoMessages}
	}
	if helper == nil {
		return nil, &SigningError{Index: -1, Err: ErrNoHelper}
	}
	oid, err := digestOID(opts.digest())
	if err != nil {
		return nil, &SigningError{Index: -1, Err: err}
	}

	ctx, batchID := correlation.Ensure(ctx)
	log := correlation.Logger(ctx, m.logger)
	store := helper.Type().String()
	total := len(messages)
	start := time.Now()

	log.Debugf("signing %d message(s) with %s (alias %q)", total, store, helper.Alias())

	results := make([]*SignedMessage, 0, total)
	for i, msg := range messages {
		name := msg.Name
		if name == "" {
			name = fmt.Sprintf("message %d", i+1)
		}
		if err := ctx.Err(); err != nil {
			return nil, &SigningError{Name: msg.Name, Index: i, Err: err}
		}

		reporter.PrintLogAndProgress(fmt.Sprintf("Signing %s (%d/%d)", name, i+1, total))

		opStart := time.Now()
		signed, err := m.signMessage(helper, msg, opts, oid)
		op := metrics.OpSign
		if signed != nil && signed.CoSigned {
			op = metrics.OpCoSign
		}
		if err != nil {
			metrics.RecordOperation(op, store, metrics.StatusError, time.Since(opStart).Seconds())
			metrics.RecordError(op, store, "sign_failed")
			reporter.PrintLog(fmt.Sprintf("Failed to sign %s: %v", name, err))
			log.Errorf("batch %s: failed to sign %s: %v", batchID, name, err)
			return nil, &SigningError{Name: msg.Name, Index: i, Err: err}
		}
		metrics.RecordOperation(op, store, metrics.StatusSuccess, time.Since(opStart).Seconds())
		if signed.CoSigned {
			reporter.PrintLog(fmt.Sprintf("Co-signed %s", name))
		} else {
			reporter.PrintLog(fmt.Sprintf("Signed %s", name))
		}
		results = append(results, signed)
	}

	reporter.PrintProgress(fmt.Sprintf("Signed %d of %d", total, total))
	log.Info("batch signed", "messages", total, "store", store, "duration", time.Since(start))
	return results, nil
}

func (m *Manager) signMessage(helper backend.Helper, msg MessageToSign, opts Options,
	oid asn1.ObjectIdentifier) (*SignedMessage, error) {

	if opts.AllowCoSigning {
		if p7, err := pkcs7.Parse(msg.Data); err == nil && len(p7.Signers) > 0 {
			return m.coSign(helper, msg, p7.Content, oid)
		}
	}

	der, err := sign(helper, msg.Data, opts.Attached, oid)
	if err != nil {
		return nil, err
	}
	return &SignedMessage{
		Name:     msg.Name,
		Data:     der,
		Attached: opts.Attached,
		Signers:  []*x509.Certificate{helper.Certificate()},
	}, nil
}

func (m *Manager) coSign(helper backend.Helper, msg MessageToSign, content []byte,
	oid asn1.ObjectIdentifier) (*SignedMessage, error) {

	if len(content) == 0 {
		return nil, ErrDetachedCoSign
	}
	addition, err := sign(helper, content, false, oid)
	if err != nil {
		return nil, err
	}
	merged, err := CoSign(msg.Data, addition)
	if err != nil {
		return nil, err
	}
	signers, err := Verify(merged, nil)
	if err != nil {
		return nil, err
	}
	return &SignedMessage{
		Name:     msg.Name,
		Data:     merged,
		Attached: true,
		CoSigned: true,
		Signers:  signers,
	}, nil
}

func sign(helper backend.Helper, content []byte, attached bool, oid asn1.ObjectIdentifier) ([]byte, error) {
	cert := helper.Certificate()
	if cert == nil {
		return nil, backend.ErrNoCertificates
	}
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, err
	}
	sd.SetDigestAlgorithm(oid)

	var parents []*x509.Certificate
	if chain := helper.Chain(); len(chain) > 1 {
		parents = chain[1:]
	}
	if err := sd.AddSignerChain(cert, helper.Signer(), parents, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, err
	}
	if !attached {
		sd.Detach()
	}
	return sd.Finish()
}
