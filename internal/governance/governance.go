// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package governance implements the per-peer quota engine (§4.6): a
// sliding one-hour rate window, a cooldown between sessions, and a
// UTC-day-keyed byte budget. Per-peer ledgers are created lazily and
// never evicted — unbounded peer counts are a tolerated non-goal.
package governance

import (
	"sync"
	"time"

	"github.com/zeebo/errs"
	monkit "github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()

// Error is the errs class for governance failures.
var Error = errs.Class("governance error")

// The closed set of deny reasons this engine can produce.
const (
	ReasonInvalidParams  = "invalid_params"
	ReasonRateLimited    = "rate_limited"
	ReasonQuotaExceeded  = "quota_exceeded"
)

// DeniedError carries a deny reason and, for rate_limited, the advisory
// retry-after interval.
type DeniedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string { return e.Reason }

// Config holds the operator-tunable governance knobs (§6.2 quotas
// section).
type Config struct {
	MaxTestsPerHourPerPeer int
	CooldownSec            int
	MaxBytesPerDayPerPeer  int64
	AllowUDPEcho           bool
	AllowThroughput        bool
}

func (c Config) testTypeAllowed(testType string) bool {
	switch testType {
	case "udp_echo":
		return c.AllowUDPEcho
	case "throughput":
		return c.AllowThroughput
	default:
		return false
	}
}

// Engine evaluates preflight decisions against per-peer ledgers.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	ledgers map[string]*ledger
}

type ledger struct {
	mu sync.Mutex

	recentStarts   []time.Time
	lastCompletion time.Time
	hasCompletion  bool

	dayKey   string
	dayBytes int64

	active map[string]struct{}
}

func newLedger() *ledger {
	return &ledger{active: make(map[string]struct{})}
}

// NewEngine creates a governance Engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, ledgers: make(map[string]*ledger)}
}

func (e *Engine) ledgerFor(peerID string) *ledger {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.ledgers[peerID]
	if !ok {
		l = newLedger()
		e.ledgers[peerID] = l
	}
	return l
}

// Preflight evaluates the fixed-order rules of §4.6 against peerID's
// ledger. On success, the caller must call RecordStart once the session
// is actually granted.
func (e *Engine) Preflight(peerID, testType string, now time.Time) (err error) {
	defer mon.Task()(nil)(&err)

	if !e.cfg.testTypeAllowed(testType) {
		return &DeniedError{Reason: ReasonInvalidParams}
	}

	l := e.ledgerFor(peerID)
	l.mu.Lock()
	defer l.mu.Unlock()

	window := time.Hour
	l.recentStarts = pruneOlderThan(l.recentStarts, now.Add(-window))
	if len(l.recentStarts) >= e.cfg.MaxTestsPerHourPerPeer {
		oldest := l.recentStarts[0]
		retryAfter := oldest.Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &DeniedError{Reason: ReasonRateLimited, RetryAfter: retryAfter}
	}

	if l.hasCompletion {
		elapsed := now.Sub(l.lastCompletion)
		cooldown := time.Duration(e.cfg.CooldownSec) * time.Second
		if elapsed < cooldown {
			return &DeniedError{Reason: ReasonRateLimited, RetryAfter: cooldown - elapsed}
		}
	}

	dayKey := currentUTCDay(now)
	if l.dayKey != dayKey {
		l.dayKey = dayKey
		l.dayBytes = 0
	}
	if l.dayBytes >= e.cfg.MaxBytesPerDayPerPeer {
		return &DeniedError{Reason: ReasonQuotaExceeded}
	}

	return nil
}

// RecordStart records that peerID started sessionID at now, for rate
// and concurrency accounting.
func (e *Engine) RecordStart(peerID, sessionID string, now time.Time) {
	l := e.ledgerFor(peerID)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recentStarts = append(l.recentStarts, now)
	l.active[sessionID] = struct{}{}
}

// RecordCompletion records that sessionID for peerID ended at now,
// updating the cooldown clock and active-session set.
func (e *Engine) RecordCompletion(peerID, sessionID string, now time.Time) {
	l := e.ledgerFor(peerID)
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.active, sessionID)
	l.lastCompletion = now
	l.hasCompletion = true
}

// RecordBytes adds n bytes to peerID's UTC-day-keyed counter, rolling
// the counter over atomically on a day change observed at call time.
func (e *Engine) RecordBytes(peerID string, n int64, now time.Time) {
	l := e.ledgerFor(peerID)
	l.mu.Lock()
	defer l.mu.Unlock()

	dayKey := currentUTCDay(now)
	if l.dayKey != dayKey {
		l.dayKey = dayKey
		l.dayBytes = 0
	}
	l.dayBytes += n
}

// BytesToday returns peerID's current UTC-day byte counter.
func (e *Engine) BytesToday(peerID string, now time.Time) int64 {
	l := e.ledgerFor(peerID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dayKey != currentUTCDay(now) {
		return 0
	}
	return l.dayBytes
}

// ActiveCount returns the number of sessions the engine currently
// believes are active for peerID.
func (e *Engine) ActiveCount(peerID string) int {
	l := e.ledgerFor(peerID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func currentUTCDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
