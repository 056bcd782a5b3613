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
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"github.com/digitorus/pkcs7"
)

var oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

// The structures below mirror RFC 5652 closely enough to merge two
// SignedData values without re-encoding signer infos or certificates.
type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo      asn1.RawValue
	Certificates     asn1.RawValue   `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue   `asn1:"optional,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

func digestOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA1:
		return pkcs7.OIDDigestAlgorithmSHA1, nil
	case crypto.SHA256:
		return pkcs7.OIDDigestAlgorithmSHA256, nil
	case crypto.SHA384:
		return pkcs7.OIDDigestAlgorithmSHA384, nil
	case crypto.SHA512:
		return pkcs7.OIDDigestAlgorithmSHA512, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedDigest, h)
}

func parseSignedData(der []byte) (*signedData, error) {
	var ci contentInfo
	rest, err := asn1.Unmarshal(der, &ci)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSignedData, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrNotSignedData)
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("%w: content type %s", ErrNotSignedData, ci.ContentType)
	}
	// An explicitly tagged RawValue keeps the [0] wrapper; Bytes is the
	// SignedData SEQUENCE.
	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSignedData, err)
	}
	return &sd, nil
}

// encapsulatedContent returns the eContent element of the SignedData, or
// nil for a detached signature.
func (sd *signedData) encapsulatedContent() ([]byte, error) {
	var eci contentInfo
	if _, err := asn1.Unmarshal(sd.ContentInfo.FullBytes, &eci); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSignedData, err)
	}
	return eci.Content.Bytes, nil
}

func (sd *signedData) certificates() ([][]byte, error) {
	var out [][]byte
	rest := sd.Certificates.Bytes
	for len(rest) > 0 {
		var cert asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &cert)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotSignedData, err)
		}
		out = append(out, cert.FullBytes)
	}
	return out, nil
}

// CoSign adds the signers of addition to existing. Both must be CMS
// SignedData over the same content; the encapsulated content of existing
// is kept, so addition is normally a detached signature.
func CoSign(existing, addition []byte) ([]byte, error) {
	base, err := parseSignedData(existing)
	if err != nil {
		return nil, err
	}
	extra, err := parseSignedData(addition)
	if err != nil {
		return nil, err
	}
	if len(extra.SignerInfos) == 0 {
		return nil, ErrNoSigners
	}

	baseContent, err := base.encapsulatedContent()
	if err != nil {
		return nil, err
	}
	extraContent, err := extra.encapsulatedContent()
	if err != nil {
		return nil, err
	}
	if baseContent != nil && extraContent != nil && !bytes.Equal(baseContent, extraContent) {
		return nil, ErrContentMismatch
	}
	if baseContent == nil && extraContent != nil {
		base.ContentInfo = extra.ContentInfo
	}

	if extra.Version > base.Version {
		base.Version = extra.Version
	}

	for _, alg := range extra.DigestAlgorithms {
		found := false
		for _, have := range base.DigestAlgorithms {
			if have.Algorithm.Equal(alg.Algorithm) {
				found = true
				break
			}
		}
		if !found {
			base.DigestAlgorithms = append(base.DigestAlgorithms, alg)
		}
	}

	baseCerts, err := base.certificates()
	if err != nil {
		return nil, err
	}
	extraCerts, err := extra.certificates()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(baseCerts)+len(extraCerts))
	var raw []byte
	for _, c := range append(baseCerts, extraCerts...) {
		if seen[string(c)] {
			continue
		}
		seen[string(c)] = true
		raw = append(raw, c...)
	}
	if len(raw) > 0 {
		base.Certificates = asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      raw,
		}
	}

	base.SignerInfos = append(base.SignerInfos, extra.SignerInfos...)

	inner, err := asn1.Marshal(*base)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(contentInfo{
		ContentType: oidSignedData,
		Content: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      inner,
		},
	})
}

// Verify checks every signature in signed and returns the signer
// certificates in signer order. content is required for detached
// signatures. Certificate chains are not validated against any trust store.
func Verify(signed, content []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSignedData, err)
	}
	if len(p7.Signers) == 0 {
		return nil, ErrNoSigners
	}
	switch {
	case len(p7.Content) == 0 && content == nil:
		return nil, ErrMissingContent
	case len(p7.Content) == 0:
		p7.Content = content
	case content != nil && !bytes.Equal(p7.Content, content):
		return nil, ErrContentMismatch
	}
	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("signing: verification failed: %w", err)
	}
	return signerCertificates(p7)
}

func signerCertificates(p7 *pkcs7.PKCS7) ([]*x509.Certificate, error) {
	out := make([]*x509.Certificate, 0, len(p7.Signers))
	for _, signer := range p7.Signers {
		ias := signer.IssuerAndSerialNumber
		var match *x509.Certificate
		for _, cert := range p7.Certificates {
			if cert.SerialNumber.Cmp(ias.SerialNumber) == 0 &&
				bytes.Equal(cert.RawIssuer, ias.IssuerName.FullBytes) {
				match = cert
				break
			}
		}
		if match == nil {
			return nil, fmt.Errorf("signing: no certificate for signer serial %s", ias.SerialNumber)
		}
		out = append(out, match)
	}
	return out, nil
}

// IsSignedData reports whether data parses as CMS SignedData with at least
// one signer.
func IsSignedData(data []byte) bool {
	p7, err := pkcs7.Parse(data)
	return err == nil && len(p7.Signers) > 0
}
