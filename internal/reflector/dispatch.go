// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package reflector

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"time"

	"go.uber.org/zap"

	"storj.io/reflector/internal/audit"
	"storj.io/reflector/internal/authgate"
	"storj.io/reflector/internal/config"
	"storj.io/reflector/internal/governance"
	"storj.io/reflector/internal/protocol"
	"storj.io/reflector/internal/session"
	"storj.io/reflector/internal/tlslistener"
)

// handleConnection owns one accepted control connection end to end: it
// extracts and authorizes the peer, then serves requests sequentially
// until the peer disconnects or sends a fatal protocol error (§5:
// "within a connection, requests are processed sequentially").
func (peer *Peer) handleConnection(ctx context.Context, conn *tlslistener.Conn) {
	defer func() { _ = conn.Close() }()

	peerID, err := tlslistener.ExtractPeerID(conn)
	if err != nil {
		peer.Log.Debug("rejecting connection with unverifiable peer id", zap.Error(err))
		peer.Audit.Write(audit.Event{Kind: audit.EventConnectionDenied, Reason: "unverifiable_peer_id"})
		return
	}

	decision := peer.AuthGate.Decide(peerID, time.Now())
	if decision != authgate.Allow {
		peer.Audit.Write(audit.Event{
			Kind: audit.EventConnectionDenied, PeerID: peerID, Decision: "deny",
			Reason: "unauthorized",
		})
		return
	}
	peer.Audit.Write(audit.Event{Kind: audit.EventConnectionAccepted, PeerID: peerID, Decision: "allow"})

	for {
		msgType, id, decode, err := protocol.ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				peer.Log.Debug("connection ended", zap.String("peer_id", peerID), zap.Error(err))
			}
			return
		}

		if !peer.dispatch(ctx, conn, peerID, msgType, id, decode) {
			return
		}
	}
}

// dispatch handles one request and writes its response(s). It returns
// false when a reply cannot be written and the connection should be
// closed; malformed or unknown requests are answered with an
// ErrorMessage and the connection stays open.
func (peer *Peer) dispatch(ctx context.Context, conn *tlslistener.Conn, peerID, msgType string, id uint64, decode func(protocol.Message) error) bool {
	switch msgType {
	case protocol.TypeHello:
		var hello protocol.Hello
		if err := decode(&hello); err != nil {
			return peer.replyError(conn, id, "malformed_payload", err.Error())
		}
		return peer.handleHello(conn, id, hello)

	case protocol.TypeSessionRequest:
		var req protocol.SessionRequest
		if err := decode(&req); err != nil {
			return peer.replyError(conn, id, "malformed_payload", err.Error())
		}
		return peer.handleSessionRequest(ctx, conn, peerID, id, req)

	case protocol.TypeSessionClose:
		var closeMsg protocol.SessionClose
		if err := decode(&closeMsg); err != nil {
			return peer.replyError(conn, id, "malformed_payload", err.Error())
		}
		return peer.handleSessionClose(conn, peerID, id, closeMsg)

	case protocol.TypeGetStatus:
		return peer.handleGetStatus(conn, id)

	case protocol.TypeGetPathMeta:
		return peer.handleGetPathMeta(conn, id)

	default:
		return peer.replyError(conn, id, "unknown_message_type", msgType)
	}
}

func (peer *Peer) handleHello(conn *tlslistener.Conn, id uint64, hello protocol.Hello) bool {
	resp := protocol.ServerHello{
		Version:  "1",
		Features: []string{"udp_echo", "throughput"},
		PolicySummary: protocol.PolicySummary{
			MaxConcurrentTests:     peer.Config.Quotas.MaxConcurrentTests,
			MaxTestsPerHourPerPeer: peer.Config.Quotas.MaxTestsPerHourPerPeer,
			MaxTestDurationSec:     peer.Config.Quotas.MaxTestDurationSec,
			AllowUDPEcho:           peer.Config.Quotas.AllowUDPEcho,
			AllowThroughput:        peer.Config.Quotas.AllowThroughput,
		},
	}
	_ = hello
	return peer.reply(conn, id, resp)
}

func (peer *Peer) handleGetStatus(conn *tlslistener.Conn, id uint64) bool {
	snap := peer.Sessions.Status()
	return peer.reply(conn, id, protocol.StatusSnapshot{
		ActiveSessions:     snap.ActiveSessions,
		MaxConcurrentTests: snap.MaxConcurrentTests,
		AuditDegradedCount: peer.Audit.DegradedCount(),
		UptimeSeconds:      int64(time.Since(peer.startedAt).Seconds()),
	})
}

func (peer *Peer) handleGetPathMeta(conn *tlslistener.Conn, id uint64) bool {
	return peer.reply(conn, id, protocol.PathMeta{
		EndpointID: peer.Identity.EndpointID(),
		Mode:       peer.Config.Network.Mode,
	})
}

// handleSessionRequest implements §4.4's strict dispatch order: (1)
// re-verify authorization, (2) governance pre-check, (3) session slot
// acquisition, (4) engine-specific resource allocation, (5) audit, (6)
// reply. Any failure aborts later steps and releases earlier-held
// resources.
func (peer *Peer) handleSessionRequest(ctx context.Context, conn *tlslistener.Conn, peerID string, id uint64, req protocol.SessionRequest) bool {
	now := time.Now()

	// (1) re-verify peer still authorized.
	if peer.AuthGate.Decide(peerID, now) != authgate.Allow {
		return peer.denySession(conn, peerID, id, protocol.DenyUnauthorized, nil)
	}

	// (2) governance pre-check.
	if err := peer.Governance.Preflight(peerID, req.TestType, now); err != nil {
		denied, ok := err.(*governance.DeniedError)
		if !ok {
			return peer.denySession(conn, peerID, id, protocol.DenyInvalidParams, nil)
		}
		var retryAfter *int64
		if denied.RetryAfter > 0 {
			secs := int64(denied.RetryAfter.Seconds())
			retryAfter = &secs
		}
		return peer.denySession(conn, peerID, id, denied.Reason, retryAfter)
	}

	// (3) session manager slot acquisition.
	requested := time.Duration(peer.Config.Quotas.MaxTestDurationSec) * time.Second
	if v, ok := req.Params["duration"]; ok {
		if d, err := parseDurationParam(v); err == nil {
			requested = d
		}
	}

	mode := peer.Config.Network.Mode
	var grantedPort int
	var cookie string

	sess, err := peer.Sessions.Request(peerID, req.TestType, mode, requested, now, func(s *session.Session, reason string) {
		peer.Governance.RecordCompletion(peerID, s.ID, time.Now())
		peer.Governance.RecordBytes(peerID, s.Bytes(), time.Now())
		peer.Audit.Write(audit.Event{
			Kind: audit.EventSessionCompleted, PeerID: peerID, SessionID: s.ID,
			Decision: "completed", Reason: reason,
		})
	})
	if err != nil {
		return peer.denySession(conn, peerID, id, protocol.DenyBusy, nil)
	}

	// (4) engine-specific resource allocation; on failure, release the
	// session slot just acquired.
	cookie, err = newAuditCookie()
	if err != nil {
		_ = peer.Sessions.Close(sess.ID, time.Now())
		return peer.denySession(conn, peerID, id, protocol.DenyInvalidParams, nil)
	}

	switch req.TestType {
	case "throughput":
		tsess, startErr := peer.Throughput.Start(ctx, cookie, requested)
		if startErr != nil {
			_ = peer.Sessions.Close(sess.ID, time.Now())
			return peer.denySession(conn, peerID, id, protocol.DenyInvalidParams, nil)
		}
		grantedPort = tsess.Port
	case "udp_echo":
		usess, bindErr := peer.UDPEcho.Bind()
		if bindErr != nil {
			_ = peer.Sessions.Close(sess.ID, time.Now())
			return peer.denySession(conn, peerID, id, protocol.DenyInvalidParams, nil)
		}
		grantedPort = usess.Port()
		go func() {
			_ = peer.UDPEcho.Run(ctx, usess, requested, func(total int64) {
				peer.Sessions.RecordBytes(sess.ID, total)
			})
		}()
	}

	peer.Governance.RecordStart(peerID, sess.ID, now)

	// (5) audit.
	peer.Audit.Write(audit.Event{
		Kind: audit.EventSessionGranted, PeerID: peerID, SessionID: sess.ID,
		Decision: "allow", Reason: req.TestType,
	})

	// (6) reply.
	return peer.reply(conn, id, protocol.SessionGrant{
		SessionID: sess.ID,
		Mode:      mode,
		Port:      grantedPort,
		Token:     cookie,
		ExpiresAt: sess.ExpiresAt.Unix(),
	})
}

func (peer *Peer) handleSessionClose(conn *tlslistener.Conn, peerID string, id uint64, msg protocol.SessionClose) bool {
	_ = peer.Sessions.Close(msg.SessionID, time.Now())
	return peer.reply(conn, id, protocol.Ok{})
}

func (peer *Peer) denySession(conn *tlslistener.Conn, peerID string, id uint64, reason string, retryAfter *int64) bool {
	peer.Audit.Write(audit.Event{
		Kind: audit.EventSessionDenied, PeerID: peerID, Decision: "deny", Reason: reason,
	})
	return peer.reply(conn, id, protocol.SessionDeny{Reason: reason, RetryAfter: retryAfter})
}

func (peer *Peer) reply(conn *tlslistener.Conn, id uint64, msg protocol.Message) bool {
	if err := protocol.WriteMessage(conn, id, msg); err != nil {
		peer.Log.Debug("failed to write reply", zap.Error(err))
		return false
	}
	return true
}

func (peer *Peer) replyError(conn *tlslistener.Conn, id uint64, code, msg string) bool {
	return peer.reply(conn, id, protocol.ErrorMessage{Code: code, Msg: msg})
}

func newAuditCookie() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func parseDurationParam(v string) (time.Duration, error) {
	return config.ParseDuration(v)
}
