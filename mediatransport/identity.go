// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediatransport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
)

// Identity supplies the local DTLS certificate.
type Identity interface {
	Certificate() tls.Certificate
	// Fingerprint returns the certificate's fingerprint with the named
	// hash, as advertised in the local description.
	Fingerprint(algorithm string) (string, error)
}

// CertificateIdentity is an Identity backed by a fixed certificate.
type CertificateIdentity struct {
	certificate tls.Certificate
	leaf        *x509.Certificate
}

// NewSelfSignedIdentity generates a fresh ECDSA certificate.
func NewSelfSignedIdentity() (*CertificateIdentity, error) {
	certificate, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("generating DTLS certificate: %w", err)
	}
	return NewCertificateIdentity(certificate)
}

// NewCertificateIdentity wraps an existing certificate.
func NewCertificateIdentity(certificate tls.Certificate) (*CertificateIdentity, error) {
	if len(certificate.Certificate) == 0 {
		return nil, fmt.Errorf("DTLS certificate has no leaf")
	}
	leaf, err := x509.ParseCertificate(certificate.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parsing DTLS certificate: %w", err)
	}
	return &CertificateIdentity{certificate: certificate, leaf: leaf}, nil
}

func (i *CertificateIdentity) Certificate() tls.Certificate { return i.certificate }

func (i *CertificateIdentity) Fingerprint(algorithm string) (string, error) {
	hash, err := fingerprint.HashFromString(algorithm)
	if err != nil {
		return "", err
	}
	return fingerprint.Fingerprint(i.leaf, hash)
}
