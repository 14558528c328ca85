// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package tlslistener

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/reflector/internal/identity"
)

func TestAcceptCompletesMutualHandshake(t *testing.T) {
	log := zaptest.NewLogger(t)

	serverIdent, err := identity.LoadOrCreate(t.TempDir() + "/server.key")
	require.NoError(t, err)
	_, serverCert, err := identity.Certificate(serverIdent)
	require.NoError(t, err)

	clientIdent, err := identity.LoadOrCreate(t.TempDir() + "/client.key")
	require.NoError(t, err)
	_, clientCert, err := identity.Certificate(clientIdent)
	require.NoError(t, err)

	ln, err := Bind(log, "127.0.0.1:0", serverCert, "")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	accepted := make(chan *Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	dialConfig := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		Certificates:       []tls.Certificate{clientCert},
		InsecureSkipVerify: true,
		NextProtos:         []string{DefaultALPN},
	}

	clientConn, err := tls.Dial("tcp", ln.Addr().String(), dialConfig)
	require.NoError(t, err)
	defer func() { _ = clientConn.Close() }()
	require.NoError(t, clientConn.Handshake())

	select {
	case conn := <-accepted:
		defer func() { _ = conn.Close() }()
		peerID, err := ExtractPeerID(conn)
		require.NoError(t, err)
		require.Equal(t, clientIdent.EndpointID(), peerID)
	case err := <-acceptErr:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
}
