// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package session implements the Session Manager (§4.5): it hands out
// bounded-lifetime test sessions up to a global concurrency ceiling,
// tracks byte counters, and reaps sessions whose expiry has passed.
// Per-peer rate/quota policy is governance's concern, not this
// package's; this package only enforces the concurrency ceiling and
// session lifetime.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skyrings/skyring-common/tools/uuid"
	"github.com/zeebo/errs"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"golang.org/x/sync/errgroup"

	"storj.io/reflector/internal/sync2"
)

var mon = monkit.Package()

// Error is the errs class for session manager failures.
var Error = errs.Class("session error")

// ErrBusy is returned by Request when the concurrency ceiling is
// already saturated.
var ErrBusy = errs.Class("session manager busy")

// ErrNotFound is returned when an operation references an unknown or
// already-closed session id.
var ErrNotFound = errs.Class("session not found")

// Session is one granted test session.
type Session struct {
	ID        string
	PeerID    string
	TestType  string
	Mode      string
	GrantedAt time.Time
	ExpiresAt time.Time

	bytes int64
	onEnd func(s *Session, reason string)
}

// Bytes returns the session's current byte counter.
func (s *Session) Bytes() int64 {
	return atomic.LoadInt64(&s.bytes)
}

// Snapshot is a point-in-time view of manager state, mirrored into
// protocol.StatusSnapshot by the wiring layer.
type Snapshot struct {
	ActiveSessions     int
	MaxConcurrentTests int
}

// Manager hands out and tracks bounded-lifetime test sessions.
type Manager struct {
	maxConcurrent int
	maxDuration   time.Duration
	grace         time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	reaper *sync2.Cycle
}

// NewManager creates a Manager enforcing maxConcurrent simultaneous
// sessions, each capped at maxDuration plus a grace period before the
// reaper force-closes it.
func NewManager(maxConcurrent int, maxDuration, grace time.Duration) *Manager {
	return &Manager{
		maxConcurrent: maxConcurrent,
		maxDuration:   maxDuration,
		grace:         grace,
		sessions:      make(map[string]*Session),
	}
}

// Request grants a new session for peerID if the concurrency ceiling
// allows it. requested is clamped to the manager's configured maximum
// duration. onEnd, if non-nil, is invoked exactly once when the session
// ends, whether by Close or by reaper expiry.
func (m *Manager) Request(peerID, testType, mode string, requested time.Duration, now time.Time, onEnd func(s *Session, reason string)) (_ *Session, err error) {
	defer mon.Task()(nil)(&err)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxConcurrent {
		return nil, ErrBusy.New("concurrency ceiling of %d reached", m.maxConcurrent)
	}

	if requested <= 0 || requested > m.maxDuration {
		requested = m.maxDuration
	}

	id, err := uuid.New()
	if err != nil {
		return nil, Error.Wrap(err)
	}

	s := &Session{
		ID:        id.String(),
		PeerID:    peerID,
		TestType:  testType,
		Mode:      mode,
		GrantedAt: now,
		ExpiresAt: now.Add(requested).Add(m.grace),
		onEnd:     onEnd,
	}
	m.sessions[s.ID] = s
	return s, nil
}

// Close voluntarily ends sessionID. It is idempotent: closing an
// already-closed or unknown session is not an error.
func (m *Manager) Close(sessionID string, now time.Time) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if s.onEnd != nil {
		s.onEnd(s, "closed")
	}
	return nil
}

// RecordBytes adds n to sessionID's byte counter. It is a no-op for an
// unknown session.
func (m *Manager) RecordBytes(sessionID string, n int64) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	atomic.AddInt64(&s.bytes, n)
}

// Get returns sessionID's current state, if active.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Status returns a snapshot of manager state.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{ActiveSessions: len(m.sessions), MaxConcurrentTests: m.maxConcurrent}
}

// ReapExpired force-closes every session whose ExpiresAt is at or
// before now, invoking each one's onEnd with reason "expired", and
// returns the ids it closed.
func (m *Manager) ReapExpired(now time.Time) []string {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		ids = append(ids, s.ID)
		if s.onEnd != nil {
			s.onEnd(s, "expired")
		}
	}
	return ids
}

// StartReaper runs ReapExpired on a fixed interval until ctx is done.
func (m *Manager) StartReaper(ctx context.Context, group *errgroup.Group, interval time.Duration) {
	m.reaper = sync2.NewCycle(interval)
	m.reaper.Start(ctx, group, func(ctx context.Context) error {
		m.ReapExpired(time.Now())
		return nil
	})
}

// Close stops the reaper, if running.
func (m *Manager) Close() {
	if m.reaper != nil {
		m.reaper.Close()
	}
}
