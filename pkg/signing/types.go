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

// Package signing produces CMS (PKCS#7) signatures over batches of
// messages using the key held by a backend.Helper.
package signing

import (
	"crypto"
	"crypto/x509"
)

// MessageToSign is one input of a batch.
type MessageToSign struct {
	// Name labels the message in progress output, usually a file name.
	Name string

	// Data is the content to sign, or an existing signature to co-sign.
	Data []byte
}

// SignedMessage is the DER encoded CMS SignedData produced for one input.
type SignedMessage struct {
	Name string
	Data []byte

	// Attached is true when the content is embedded in Data.
	Attached bool

	// CoSigned is true when Data merges a pre-existing signature.
	CoSigned bool

	// Signers lists the certificate of every signer in Data.
	Signers []*x509.Certificate
}

// Options controls a batch.
type Options struct {
	// Attached embeds the content in the signature.
	Attached bool

	// AllowCoSigning adds a signer to inputs that already are SignedData.
	AllowCoSigning bool

	// Digest defaults to SHA-256.
	Digest crypto.Hash
}

func (o Options) digest() crypto.Hash {
	if o.Digest == 0 {
		return crypto.SHA256
	}
	return o.Digest
}

// Reporter receives progress and log lines. Either sink may be nil.
type Reporter struct {
	Progress func(string)
	Log      func(string)
}

func (r *Reporter) PrintProgress(msg string) {
	if r != nil && r.Progress != nil {
		r.Progress(msg)
	}
}

func (r *Reporter) PrintLog(msg string) {
	if r != nil && r.Log != nil {
		r.Log(msg)
	}
}

func (r *Reporter) PrintLogAndProgress(msg string) {
	r.PrintLog(msg)
	r.PrintProgress(msg)
}
