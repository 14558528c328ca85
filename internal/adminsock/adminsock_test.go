// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package adminsock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeDispatcher struct {
	token      string
	endpointID string
	enableErr  error
}

func (f *fakeDispatcher) EnablePairing(ttlSec int64) (string, string, error) {
	if f.enableErr != nil {
		return "", "", f.enableErr
	}
	return f.token, f.endpointID, nil
}

func (f *fakeDispatcher) Status() Response {
	return Response{ActiveSessions: 2, MaxConcurrentTests: 4, AuditDegraded: 0}
}

func TestServeAndCall_EnablePairing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.sock")
	d := &fakeDispatcher{token: "tok123", endpointID: "PP-ABCD"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = Serve(ctx, zaptest.NewLogger(t), path, d)
	}()
	<-ready
	time.Sleep(50 * time.Millisecond)

	resp, err := Call(path, Request{Command: "enable_pairing", TTLSec: 600})
	require.NoError(t, err)
	assert.Equal(t, "tok123", resp.Token)
	assert.Equal(t, "PP-ABCD", resp.EndpointID)
}

func TestServeAndCall_Status(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.sock")
	d := &fakeDispatcher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Serve(ctx, zaptest.NewLogger(t), path, d) }()
	time.Sleep(50 * time.Millisecond)

	resp, err := Call(path, Request{Command: "status"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ActiveSessions)
	assert.Equal(t, 4, resp.MaxConcurrentTests)
}

func TestCall_NoServerRunningReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.sock")
	_, err := Call(path, Request{Command: "status"})
	assert.Error(t, err)
}

func TestServeAndCall_UnknownCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.sock")
	d := &fakeDispatcher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Serve(ctx, zaptest.NewLogger(t), path, d) }()
	time.Sleep(50 * time.Millisecond)

	_, err := Call(path, Request{Command: "bogus"})
	assert.Error(t, err)
}
