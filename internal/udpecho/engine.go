// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package udpecho implements the UDP Echo Engine (§4.8): a bound UDP
// socket that reflects inbound datagrams back to their sender, under a
// per-peer packet-rate ceiling, reporting byte counts to the Session
// Manager on a fixed cadence until the session's duration elapses.
package udpecho

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/zeebo/errs"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var mon = monkit.Package()

// Error is the errs class for UDP echo engine failures.
var Error = errs.Class("udp echo error")

// Config holds the operator-tunable UDP echo knobs.
type Config struct {
	// MaxDatagramBytes rejects (silently drops) any inbound datagram
	// larger than this.
	MaxDatagramBytes int
	// PacketsPerSecond bounds the reflected packet rate; excess
	// packets are silently dropped.
	PacketsPerSecond int
	// ReportEveryPackets and ReportEveryInterval bound how often
	// OnReport fires, whichever threshold is reached first.
	ReportEveryPackets int
	ReportEveryInterval time.Duration
}

// Session is one running UDP echo reflector bound to an ephemeral port.
type Session struct {
	conn *net.UDPConn
	port int
}

// Port returns the ephemeral port the session bound to.
func (s *Session) Port() int { return s.port }

// Close releases the session's socket, causing its Run goroutine to
// return.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Engine binds and runs UDP echo sessions.
type Engine struct {
	cfg Config
	log *zap.Logger
}

// NewEngine creates a udpecho Engine.
func NewEngine(log *zap.Logger, cfg Config) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// Bind opens a UDP socket on an ephemeral port.
func (e *Engine) Bind() (*Session, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Session{conn: conn, port: conn.LocalAddr().(*net.UDPAddr).Port}, nil
}

// Run reflects datagrams on s until ctx is done, duration elapses, or
// the session's socket is closed, whichever comes first. onReport is
// invoked with the cumulative byte count reflected so far, right after a
// datagram is reflected, once ReportEveryPackets packets have been
// reflected or ReportEveryInterval has passed since the previous report.
// No report is made while no datagrams arrive, and bytes reflected since
// the last report are not reported when Run stops. Run returns once the
// session has fully stopped.
func (e *Engine) Run(ctx context.Context, s *Session, duration time.Duration, onReport func(totalBytes int64)) (err error) {
	defer mon.Task()(nil)(&err)

	deadline := time.Now().Add(duration)
	_ = s.conn.SetReadDeadline(deadline)

	limiter := rate.NewLimiter(rate.Limit(e.cfg.PacketsPerSecond), e.cfg.PacketsPerSecond)

	var total int64
	var sinceReport int64
	lastReport := time.Now()
	buf := make([]byte, e.cfg.MaxDatagramBytes+1)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(time.Until(deadline)):
		}
		close(stop)
		_ = s.conn.Close()
	}()

	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return nil
		}

		if n > e.cfg.MaxDatagramBytes {
			continue
		}
		if !limiter.Allow() {
			continue
		}

		if _, werr := s.conn.WriteToUDP(buf[:n], addr); werr != nil {
			continue
		}

		atomic.AddInt64(&total, int64(n))
		sinceReport++

		if sinceReport >= int64(e.cfg.ReportEveryPackets) || time.Since(lastReport) >= e.cfg.ReportEveryInterval {
			if onReport != nil {
				onReport(atomic.LoadInt64(&total))
			}
			sinceReport = 0
			lastReport = time.Now()
		}
	}
}
