// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package adminsock implements a small local control channel for the
// Reflector's CLI commands to reach a running `serve` process: pairing
// is runtime-only state (§6.4, "persist only for the life of the
// process"), so enabling it from a separate `pair` invocation requires
// talking to the live process rather than editing files on disk.
// Requests are line-delimited JSON over a Unix domain socket, following
// the same tagged-request/response shape as internal/protocol but kept
// separate since this channel is trusted-local, not mTLS-gated.
package adminsock

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the errs class for admin socket failures.
var Error = errs.Class("admin socket error")

// Request is one command sent to a running Reflector process.
type Request struct {
	Command string `json:"command"`
	TTLSec  int64  `json:"ttl_sec,omitempty"`
}

// Response is the running process's answer to a Request.
type Response struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	EndpointID string `json:"endpoint_id,omitempty"`
	Token      string `json:"token,omitempty"`

	ActiveSessions     int   `json:"active_sessions,omitempty"`
	MaxConcurrentTests int   `json:"max_concurrent_tests,omitempty"`
	AuditDegraded      int64 `json:"audit_degraded,omitempty"`
}

// Dispatcher answers the commands adminsock accepts. The running Peer
// implements this by delegating to its own components.
type Dispatcher interface {
	EnablePairing(ttlSec int64) (token, endpointID string, err error)
	Status() Response
}

// Serve listens on path (removing any stale socket file first) and
// dispatches requests to d until ctx is done.
func Serve(ctx context.Context, log *zap.Logger, path string, d Dispatcher) error {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = ln.Close() }()
	defer func() { _ = os.Remove(path) }()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return Error.Wrap(err)
		}
		go handle(log, conn, d)
	}
}

func handle(log *zap.Logger, conn net.Conn, d Dispatcher) {
	defer func() { _ = conn.Close() }()

	var req Request
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		log.Debug("admin socket: malformed request", zap.Error(err))
		return
	}

	var resp Response
	switch req.Command {
	case "enable_pairing":
		token, endpointID, err := d.EnablePairing(req.TTLSec)
		if err != nil {
			resp = Response{OK: false, Error: err.Error()}
		} else {
			resp = Response{OK: true, Token: token, EndpointID: endpointID}
		}
	case "status":
		resp = d.Status()
		resp.OK = true
	default:
		resp = Response{OK: false, Error: "unknown command"}
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Debug("admin socket: failed to write response", zap.Error(err))
	}
}

// Call dials the admin socket at path and issues req, returning the
// process's response. A dial failure means no server is currently
// running (or listening on that path).
func Call(path string, req Request) (Response, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return Response{}, Error.Wrap(err)
	}
	defer func() { _ = conn.Close() }()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, Error.Wrap(err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, Error.Wrap(err)
	}
	if !resp.OK {
		return resp, Error.New("%s", resp.Error)
	}
	return resp, nil
}
