// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package tlslistener implements the Reflector's mutual-TLS control
// listener. It deliberately mirrors the teacher's inverted trust model
// (storj.io/storj's pkg/provider and pkg/peertls/tlsopts): the TLS layer
// accepts any syntactically valid, self-signed client certificate —
// cryptographic verification is reduced to "the leaf's signature binds it
// to its own public key" — and leaves the decision of *who* that public
// key belongs to, and whether they are welcome, to the application layer
// (internal/authgate). Do not add hostname or CA-chain verification here;
// that would break the design this package exists to implement.
package tlslistener

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "github.com/spacemonkeygo/monkit/v3"

	"storj.io/reflector/internal/identity"
)

var mon = monkit.Package()

// Error is the errs class for listener failures.
var Error = errs.Class("tls listener error")

// DefaultALPN is the sole application protocol the Reflector advertises.
const DefaultALPN = "pp-link/1"

// Listener accepts TLS 1.3 mutual-TLS connections over TCP, enforcing a
// single ALPN identifier and requiring a client certificate, without
// validating that certificate's chain of trust.
type Listener struct {
	log   *zap.Logger
	inner net.Listener
	alpn  string
}

// Conn is an accepted, handshake-complete connection together with the
// certificate chain the peer presented.
type Conn struct {
	net.Conn
	PeerCertChain []*x509.Certificate
}

// Bind starts listening on addr with the given server certificate and
// ALPN identifier (DefaultALPN if empty).
func Bind(log *zap.Logger, addr string, cert tls.Certificate, alpn string) (*Listener, error) {
	if alpn == "" {
		alpn = DefaultALPN
	}

	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		MaxVersion:         tls.VersionTLS13,
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		VerifyPeerCertificate: verifyLeafSelfConsistency,
	}

	return &Listener{
		log:   log,
		inner: tls.NewListener(tcp, tlsConfig),
		alpn:  alpn,
	}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.inner.Close() }

// Accept blocks for the next inbound connection, completes its TLS
// handshake, and returns the peer's presented certificate chain.
// Handshake failures are logged at debug level and do not propagate as
// fatal listener errors; Accept closes that connection and waits for
// the next one itself. Only errors of the underlying listener are
// returned.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	for {
		raw, err := l.inner.Accept()
		if err != nil {
			return nil, Error.Wrap(err)
		}

		tlsConn, ok := raw.(*tls.Conn)
		if !ok {
			_ = raw.Close()
			continue
		}

		if err := tlsConn.HandshakeContext(ctx); err != nil {
			l.log.Debug("tls handshake failed", zap.Error(err), zap.String("remote", raw.RemoteAddr().String()))
			_ = raw.Close()
			continue
		}

		state := tlsConn.ConnectionState()
		return &Conn{Conn: tlsConn, PeerCertChain: state.PeerCertificates}, nil
	}
}

// ExtractPeerID extracts and validates the Endpoint ID embedded in the
// leaf certificate of conn's presented chain.
func ExtractPeerID(conn *Conn) (string, error) {
	if len(conn.PeerCertChain) == 0 {
		return "", Error.New("no peer certificate presented")
	}
	leaf := conn.PeerCertChain[0]
	if err := identity.VerifyPublicKeyBinding(leaf); err != nil {
		return "", Error.Wrap(err)
	}
	return identity.ExtractPeerIDFromCert(leaf)
}

// verifyLeafSelfConsistency is installed as tls.Config.VerifyPeerCertificate
// in place of Go's default chain verification (disabled via
// InsecureSkipVerify). It only checks that the leaf parses and that its
// signature is internally self-consistent; it does not walk a trust
// chain or check hostnames, by design.
func verifyLeafSelfConsistency(rawCerts [][]byte, _ [][]*x509.Certificate) (err error) {
	defer mon.Task()(nil)(&err)

	if len(rawCerts) == 0 {
		return Error.New("no certificate presented")
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return Error.Wrap(err)
	}
	// A self-signed leaf is its own issuer: verifying its signature
	// against its own public key is the full extent of cryptographic
	// verification this layer performs.
	return leaf.CheckSignatureFrom(leaf)
}
