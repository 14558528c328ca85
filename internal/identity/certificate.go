// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/url"
	"time"

	"github.com/zeebo/errs"
)

// ErrCertificate is the errs class for certificate generation/parsing
// failures.
var ErrCertificate = errs.Class("identity certificate")

// ErrPeerID is the errs class for peer-identity extraction failures,
// kept distinct from ErrCertificate so callers can log precisely
// whether a SAN was missing, malformed, or failed its check digit.
var ErrPeerID = errs.Class("peer id extraction")

// certValidity is the self-signed leaf's lifetime. Revocation happens by
// identity rotation, not by CRL/OCSP, so this is set long.
const certValidity = 10 * 365 * 24 * time.Hour

// Certificate returns a DER-encoded self-signed X.509 certificate and the
// matching tls.Certificate for ident, suitable for use as a TLS server
// or client leaf. The certificate's SAN URI encodes the Endpoint ID as
// "pp-id-<ID>"; its public key is ident's public key.
func Certificate(ident *Identity) (certDER []byte, tlsCert tls.Certificate, err error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, tls.Certificate{}, ErrCertificate.Wrap(err)
	}

	sanURI, err := url.Parse(SANURIScheme + ident.EndpointID())
	if err != nil {
		return nil, tls.Certificate{}, ErrCertificate.Wrap(err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: ident.EndpointID()},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		URIs:                  []*url.URL{sanURI},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, ident.PublicKey, ident.PrivateKey)
	if err != nil {
		return nil, tls.Certificate{}, ErrCertificate.Wrap(err)
	}

	return der, tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  ident.PrivateKey,
		Leaf:        nil,
	}, nil
}

// ExtractPeerID finds the SAN URI entry in certDER matching the
// "pp-id-<ID>" form, validates its check digit, and returns the
// canonical uppercase Endpoint ID. Missing, malformed, or check-failing
// values produce a distinct error kind.
func ExtractPeerID(certDER []byte) (string, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return "", ErrPeerID.Wrap(err)
	}
	return ExtractPeerIDFromCert(cert)
}

// ExtractPeerIDFromCert is like ExtractPeerID but operates on an
// already-parsed certificate.
func ExtractPeerIDFromCert(cert *x509.Certificate) (string, error) {
	for _, u := range cert.URIs {
		raw := u.String()
		if len(raw) <= len(SANURIScheme) || raw[:len(SANURIScheme)] != SANURIScheme {
			continue
		}
		id := raw[len(SANURIScheme):]
		canonical, err := ValidateEndpointID(id)
		if err != nil {
			return "", ErrPeerID.Wrap(err)
		}
		return canonical, nil
	}
	return "", ErrPeerID.New("no %q SAN URI present in certificate", SANURIScheme)
}

// VerifyPublicKeyBinding checks that the certificate's embedded public
// key matches the key that the Endpoint ID in its SAN URI was derived
// from — the cryptographic core of "the leaf binds its SAN to its own
// public key" that the TLS layer relies on.
func VerifyPublicKeyBinding(cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return ErrPeerID.New("certificate public key is not Ed25519")
	}
	id, err := ExtractPeerIDFromCert(cert)
	if err != nil {
		return err
	}
	if DeriveEndpointID(pub) != id {
		return ErrPeerID.New("certificate SAN does not match its own public key")
	}
	return nil
}
