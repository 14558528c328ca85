// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package audit implements the Reflector's append-only audit trail: the
// sole authoritative sequence of authorization decisions and session
// transitions (§4.9, §5). Writes are best-effort — availability of the
// request path outranks completeness of the audit log — but failures are
// never silent; they increment a degraded counter surfaced through
// StatusSnapshot.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the errs class for audit log failures.
var Error = errs.Class("audit error")

// Event kinds, matching the closed set in spec §3.
const (
	EventConnectionAccepted = "connection_accepted"
	EventConnectionDenied   = "connection_denied"
	EventSessionGranted     = "session_granted"
	EventSessionDenied      = "session_denied"
	EventSessionCompleted   = "session_completed"
	EventPairingEnabled     = "pairing_enabled"
	EventPairingConsumed    = "pairing_consumed"
	EventIdentityRotated    = "identity_rotated"
	EventPeerAdded          = "peer_added"
	EventPeerRemoved        = "peer_removed"
)

// Event is a single append-only audit record.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Kind      string                 `json:"kind"`
	PeerID    string                 `json:"peer_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Decision  string                 `json:"decision,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Log is an append-only, line-delimited JSON audit log. It keeps its
// file handle open across writes and serializes them, matching the
// teacher's convention of one long-lived handle per owning component
// (e.g. pkg/piecestore/psdb's boltdb handle).
type Log struct {
	log *zap.Logger

	mu   sync.Mutex
	file *os.File

	degraded int64 // atomic
}

// Open opens (creating if necessary) the audit log at path, creating its
// parent directory if missing.
func Open(log *zap.Logger, path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, Error.Wrap(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Log{log: log, file: f}, nil
}

// Write appends ev to the log. Failures are logged at error level and
// counted, but never returned as fatal to the caller's request path.
func (l *Log) Write(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	} else {
		ev.Timestamp = ev.Timestamp.UTC()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		l.markDegraded(err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	_, err = l.file.Write(line)
	l.mu.Unlock()

	if err != nil {
		l.markDegraded(err)
	}
}

func (l *Log) markDegraded(err error) {
	atomic.AddInt64(&l.degraded, 1)
	l.log.Error("audit log write failed", zap.Error(err))
}

// DegradedCount returns the number of audit writes that have failed
// since the log was opened, for StatusSnapshot.
func (l *Log) DegradedCount() int64 {
	return atomic.LoadInt64(&l.degraded)
}

// Close closes the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
