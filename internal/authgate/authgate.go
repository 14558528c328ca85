// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package authgate implements the Reflector's application-layer
// authorization decision (§4.3): allowlist membership, and a
// time-limited, single-use pairing flow for enrolling new peers. The TLS
// layer (internal/tlslistener) only establishes that a peer controls the
// private key behind a self-signed certificate; authgate decides whether
// that identity is welcome.
package authgate

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/reflector/internal/audit"
)

// Error is the errs class for authorization gate failures.
var Error = errs.Class("auth gate error")

// Decision is the outcome of a Decide call.
type Decision int

// The closed set of authorization decisions.
const (
	Deny Decision = iota
	Allow
	PairingRequired
)

// pairingTokenVersion distinguishes pairing tokens from any other
// base58-check-encoded value this process might mint.
const pairingTokenVersion = 0x2a

const tokenPayloadBytes = 20

// Gate holds the authorized-peer set and at most one active pairing
// token. All mutations are short critical sections that never hold the
// lock across I/O, per §5's shared-resource policy.
type Gate struct {
	log   *zap.Logger
	audit *audit.Log

	mu         sync.Mutex
	authorized map[string]struct{}
	pairing    *pairingToken
}

type pairingToken struct {
	value     string
	createdAt time.Time
	ttl       time.Duration
	consumed  bool
}

func (t *pairingToken) expired(now time.Time) bool {
	return now.Sub(t.createdAt) >= t.ttl
}

// New creates a Gate pre-populated with the given authorized peer IDs
// (typically loaded from configuration).
func New(log *zap.Logger, auditLog *audit.Log, initialPeers []string) *Gate {
	g := &Gate{
		log:        log,
		audit:      auditLog,
		authorized: make(map[string]struct{}, len(initialPeers)),
	}
	for _, p := range initialPeers {
		g.authorized[p] = struct{}{}
	}
	return g
}

// Decide evaluates peerID against the allowlist and any active pairing
// window. It is pure: the same (set, pairing state, now) always produces
// the same outcome.
func (g *Gate) Decide(peerID string, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.authorized[peerID]; ok {
		return Allow
	}
	if g.pairing != nil && !g.pairing.consumed && !g.pairing.expired(now) {
		return PairingRequired
	}
	return Deny
}

// EnablePairing generates a fresh single-use token with the given TTL,
// replacing any prior token (which becomes permanently unusable).
func (g *Gate) EnablePairing(ttl time.Duration) (string, error) {
	value, err := newOpaqueToken()
	if err != nil {
		return "", Error.Wrap(err)
	}

	g.mu.Lock()
	g.pairing = &pairingToken{value: value, createdAt: time.Now(), ttl: ttl}
	g.mu.Unlock()

	g.audit.Write(audit.Event{
		Kind:     audit.EventPairingEnabled,
		Decision: "enabled",
		Details:  map[string]interface{}{"ttl_seconds": ttl.Seconds()},
	})

	return value, nil
}

// CompletePairing reasons for a failed pairing attempt.
const (
	ReasonNoPairingActive = "no_pairing_active"
	ReasonTokenExpired    = "expired"
	ReasonTokenMismatched = "mismatched"
	ReasonTokenConsumed   = "consumed"
)

// CompletePairing succeeds iff the active token matches presentedToken,
// is not expired, and is not already consumed, in which case it
// atomically marks the token consumed and inserts peerID into the
// authorized set. Exactly one of two concurrent callers racing on the
// same valid token observes success.
func (g *Gate) CompletePairing(peerID, presentedToken string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pairing == nil {
		return Error.New(ReasonNoPairingActive)
	}
	if g.pairing.value != presentedToken {
		return Error.New(ReasonTokenMismatched)
	}
	if g.pairing.consumed {
		return Error.New(ReasonTokenConsumed)
	}
	if g.pairing.expired(now) {
		return Error.New(ReasonTokenExpired)
	}

	g.pairing.consumed = true
	g.authorized[peerID] = struct{}{}

	g.audit.Write(audit.Event{
		Kind:     audit.EventPairingConsumed,
		PeerID:   peerID,
		Decision: "consumed",
	})
	g.audit.Write(audit.Event{
		Kind:     audit.EventPeerAdded,
		PeerID:   peerID,
		Decision: "allow",
		Reason:   "pairing",
	})

	return nil
}

// AddPeer administratively authorizes peerID, e.g. from configuration.
func (g *Gate) AddPeer(peerID string) {
	g.mu.Lock()
	g.authorized[peerID] = struct{}{}
	g.mu.Unlock()

	g.audit.Write(audit.Event{Kind: audit.EventPeerAdded, PeerID: peerID, Decision: "allow", Reason: "admin"})
}

// RemovePeer administratively revokes peerID.
func (g *Gate) RemovePeer(peerID string) {
	g.mu.Lock()
	delete(g.authorized, peerID)
	g.mu.Unlock()

	g.audit.Write(audit.Event{Kind: audit.EventPeerRemoved, PeerID: peerID, Decision: "deny", Reason: "admin"})
}

// AuthorizedPeers returns a snapshot of the current allowlist.
func (g *Gate) AuthorizedPeers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, 0, len(g.authorized))
	for p := range g.authorized {
		out = append(out, p)
	}
	return out
}

// newOpaqueToken mints a random opaque string with an embedded checksum,
// using the same base58-check technique storj.io/storj's go.mod already
// depends on (github.com/btcsuite/btcutil/base58) for self-verifying
// opaque identifiers.
func newOpaqueToken() (string, error) {
	buf := make([]byte, tokenPayloadBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base58.CheckEncode(buf, pairingTokenVersion), nil
}
