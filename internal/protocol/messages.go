// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package protocol

// Message is implemented by every type in the control-protocol message
// set; MessageType returns the wire tag used in the envelope.
type Message interface {
	MessageType() string
}

// Message type tags, matching the §4.4 message table.
const (
	TypeHello         = "hello"
	TypeServerHello    = "server_hello"
	TypeSessionRequest = "session_request"
	TypeSessionGrant   = "session_grant"
	TypeSessionDeny    = "session_deny"
	TypeSessionClose   = "session_close"
	TypeGetStatus      = "get_status"
	TypeStatusSnapshot = "status_snapshot"
	TypeGetPathMeta    = "get_path_meta"
	TypePathMeta       = "path_meta"
	TypeOk             = "ok"
	TypeError          = "error"
)

// The closed enumeration of SessionDeny reasons (§4.4).
const (
	DenyUnauthorized    = "unauthorized"
	DenyRateLimited     = "rate_limited"
	DenyBusy            = "busy"
	DenyInvalidParams   = "invalid_params"
	DenyQuotaExceeded   = "quota_exceeded"
)

// Hello is the client's capability opener.
type Hello struct {
	Version  string   `json:"version"`
	Features []string `json:"features"`
}

// MessageType implements Message.
func (Hello) MessageType() string { return TypeHello }

// ServerHello answers Hello with the feature intersection and visible
// policy limits.
type ServerHello struct {
	Version        string         `json:"version"`
	Features       []string       `json:"features"`
	PolicySummary  PolicySummary  `json:"policy_summary"`
}

// MessageType implements Message.
func (ServerHello) MessageType() string { return TypeServerHello }

// PolicySummary is the subset of governance configuration safe to
// expose to a peer so it can self-throttle.
type PolicySummary struct {
	MaxConcurrentTests     int  `json:"max_concurrent_tests"`
	MaxTestsPerHourPerPeer int  `json:"max_tests_per_hour_per_peer"`
	MaxTestDurationSec     int  `json:"max_test_duration_sec"`
	AllowUDPEcho           bool `json:"allow_udp_echo"`
	AllowThroughput        bool `json:"allow_throughput"`
}

// SessionRequest asks for a test session.
type SessionRequest struct {
	TestType string            `json:"test_type"`
	Params   map[string]string `json:"params,omitempty"`
}

// MessageType implements Message.
func (SessionRequest) MessageType() string { return TypeSessionRequest }

// SessionGrant approves a SessionRequest.
type SessionGrant struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	Port      int    `json:"port,omitempty"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds, UTC
}

// MessageType implements Message.
func (SessionGrant) MessageType() string { return TypeSessionGrant }

// SessionDeny refuses a SessionRequest.
type SessionDeny struct {
	Reason     string `json:"reason"`
	RetryAfter *int64 `json:"retry_after,omitempty"` // seconds
}

// MessageType implements Message.
func (SessionDeny) MessageType() string { return TypeSessionDeny }

// SessionClose voluntarily ends a session.
type SessionClose struct {
	SessionID string `json:"session_id"`
}

// MessageType implements Message.
func (SessionClose) MessageType() string { return TypeSessionClose }

// GetStatus requests a StatusSnapshot.
type GetStatus struct{}

// MessageType implements Message.
func (GetStatus) MessageType() string { return TypeGetStatus }

// StatusSnapshot answers GetStatus.
type StatusSnapshot struct {
	ActiveSessions      int   `json:"active_sessions"`
	MaxConcurrentTests  int   `json:"max_concurrent_tests"`
	AuditDegradedCount  int64 `json:"audit_degraded_count"`
	UptimeSeconds       int64 `json:"uptime_seconds"`
}

// MessageType implements Message.
func (StatusSnapshot) MessageType() string { return TypeStatusSnapshot }

// GetPathMeta requests PathMeta.
type GetPathMeta struct{}

// MessageType implements Message.
func (GetPathMeta) MessageType() string { return TypeGetPathMeta }

// PathMeta reports system context useful to the appliance peer.
type PathMeta struct {
	EndpointID string `json:"endpoint_id"`
	Mode       string `json:"mode"`
}

// MessageType implements Message.
func (PathMeta) MessageType() string { return TypePathMeta }

// Ok is a generic acknowledgement.
type Ok struct{}

// MessageType implements Message.
func (Ok) MessageType() string { return TypeOk }

// ErrorMessage is a generic error acknowledgement.
type ErrorMessage struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// MessageType implements Message.
func (ErrorMessage) MessageType() string { return TypeError }
