// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package throughput implements the Throughput Engine (§4.7): for a
// granted throughput session it reserves an ephemeral port, spawns an
// external one-shot test server bound to it under a hard time budget,
// and supervises that child process's lifetime with a two-phase
// shutdown.
package throughput

import (
	"bufio"
	"context"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/errs"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
)

var mon = monkit.Package()

// Error is the errs class for throughput engine failures.
var Error = errs.Class("throughput error")

// ErrNoPortAvailable is returned when every port in the configured
// range is occupied or fails probe-bind after MaxPortAttempts tries.
var ErrNoPortAvailable = errs.Class("no throughput port available")

// Config holds the operator-tunable throughput knobs (§6.2 throughput
// section).
type Config struct {
	// Path is the external test-server binary.
	Path string
	// PortLow and PortHigh bound the ephemeral port range to scan.
	PortLow, PortHigh int
	// MaxPortAttempts bounds how many ports are tried before giving up.
	MaxPortAttempts int
	// TeardownGrace is added to the session duration for the hard
	// time budget, and is also the wait between polite signal and
	// forced kill.
	TeardownGrace time.Duration
}

// Session supervises one spawned external test-server process.
type Session struct {
	Port      int
	Cookie    string
	BytesSeen int64

	log    *zap.Logger
	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan struct{}
	exited bool
}

// Engine reserves ports and spawns/supervises external throughput
// test-server processes.
type Engine struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	heldPorts  map[int]struct{}
	dyingPorts map[int]struct{}
}

// NewEngine creates a throughput Engine.
func NewEngine(log *zap.Logger, cfg Config) *Engine {
	return &Engine{
		cfg:        cfg,
		log:        log,
		heldPorts:  make(map[int]struct{}),
		dyingPorts: make(map[int]struct{}),
	}
}

// Start reserves a port, spawns the external test server against it
// with a hard time budget of duration+TeardownGrace, and returns a
// Session the caller uses to track and later stop it. cookie is an
// opaque nonce the caller has already minted for audit correlation.
func (e *Engine) Start(ctx context.Context, cookie string, duration time.Duration) (_ *Session, err error) {
	defer mon.Task()(nil)(&err)

	port, err := e.reservePort()
	if err != nil {
		return nil, err
	}

	budget := duration + e.cfg.TeardownGrace
	runCtx, cancel := context.WithTimeout(context.Background(), budget)

	cmd := exec.CommandContext(runCtx, e.cfg.Path, "--port", strconv.Itoa(port), "--cookie", cookie)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		e.releasePort(port)
		return nil, Error.Wrap(err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		e.releasePort(port)
		return nil, Error.Wrap(err)
	}

	s := &Session{
		Port:   port,
		Cookie: cookie,
		log:    e.log,
		cmd:    cmd,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		defer close(s.done)

		report := readFinalReport(stdout)
		// stdout has closed, so the child is exiting: keep its port out
		// of circulation until Wait confirms it is gone.
		e.markDying(port)

		err := cmd.Wait()
		s.mu.Lock()
		s.exited = true
		s.mu.Unlock()

		if err != nil {
			e.log.Info("throughput test server exited non-zero", zap.Int("port", port), zap.Error(err))
		}
		if report >= 0 {
			s.mu.Lock()
			s.BytesSeen = report
			s.mu.Unlock()
		}

		e.releasePort(port)
	}()

	return s, nil
}

// Stop signals the session's child process to terminate, waits up to
// TeardownGrace, then forcibly kills it if it hasn't exited.
func (e *Engine) Stop(s *Session) {
	if s == nil || s.cmd == nil || s.cmd.Process == nil {
		return
	}

	_ = s.cmd.Process.Signal(signalForPoliteStop())

	select {
	case <-s.done:
		return
	case <-time.After(e.cfg.TeardownGrace):
	}

	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if !exited {
		_ = s.cmd.Process.Kill()
	}
	<-s.done
}

// reservePort scans [PortLow, PortHigh] and returns the first port for
// which a probe bind succeeds, up to MaxPortAttempts tries. The probe
// listener is released immediately: this is racy by definition, per
// §4.7 step 1.
func (e *Engine) reservePort() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	attempts := 0
	for port := e.cfg.PortLow; port <= e.cfg.PortHigh && attempts < e.cfg.MaxPortAttempts; port++ {
		attempts++

		if _, held := e.heldPorts[port]; held {
			continue
		}
		if _, dying := e.dyingPorts[port]; dying {
			continue
		}

		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = ln.Close()

		e.heldPorts[port] = struct{}{}
		return port, nil
	}

	return 0, ErrNoPortAvailable.New("no bindable port in [%d,%d] after %d attempts", e.cfg.PortLow, e.cfg.PortHigh, attempts)
}

func (e *Engine) markDying(port int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.heldPorts, port)
	e.dyingPorts[port] = struct{}{}
}

// releasePort is called once the child has fully exited: only then is
// the port safe to hand out again (§4.7 step 5).
func (e *Engine) releasePort(port int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.heldPorts, port)
	delete(e.dyingPorts, port)
}

// readFinalReport scans the child's stdout for a trailing line of the
// form "bytes=<n>" and returns n, or -1 if none was seen before EOF.
func readFinalReport(r interface{ Read([]byte) (int, error) }) int64 {
	scanner := bufio.NewScanner(r)
	result := int64(-1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if n, ok := strings.CutPrefix(line, "bytes="); ok {
			if v, err := strconv.ParseInt(n, 10, 64); err == nil {
				result = v
			}
		}
	}
	return result
}
