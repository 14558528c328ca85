// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package reflector wires every Reflector component together, mirroring
// storagenode.Peer's New/Run/Close lifecycle idiom (§5): a value built up
// field by field in New, run concurrently via an errgroup.Group in Run,
// and torn down in reverse initialization order in Close.
package reflector

import (
	"context"
	"time"

	"github.com/zeebo/errs"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/reflector/internal/adminsock"
	"storj.io/reflector/internal/audit"
	"storj.io/reflector/internal/authgate"
	"storj.io/reflector/internal/config"
	"storj.io/reflector/internal/governance"
	"storj.io/reflector/internal/healthsrv"
	"storj.io/reflector/internal/identity"
	"storj.io/reflector/internal/session"
	"storj.io/reflector/internal/throughput"
	"storj.io/reflector/internal/tlslistener"
	"storj.io/reflector/internal/udpecho"
)

var mon = monkit.Package()

// Error is the errs class for peer wiring failures.
var Error = errs.Class("reflector error")

const reapInterval = 30 * time.Second

// Peer is the fully wired Reflector process.
type Peer struct {
	Log      *zap.Logger
	Identity *identity.Identity
	Config   config.Config

	startedAt time.Time

	Control struct {
		Listener *tlslistener.Listener
	}

	Health *healthsrv.Server

	AuthGate   *authgate.Gate
	Governance *governance.Engine
	Sessions   *session.Manager
	Throughput *throughput.Engine
	UDPEcho    *udpecho.Engine
	Audit      *audit.Log
}

// New builds a Peer from cfg, opening the audit log, loading or creating
// the identity, and binding the control listener. Any failure during
// construction closes whatever was already opened.
func New(log *zap.Logger, cfg config.Config) (peer *Peer, err error) {
	peer = &Peer{Log: log, Config: cfg, startedAt: time.Now()}

	{ // identity
		peer.Identity, err = identity.LoadOrCreate(cfg.Identity.PrivateKeyPath)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}
	}

	{ // audit log
		peer.Audit, err = audit.Open(log.Named("audit"), cfg.Logging.AuditLogPath)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}
	}

	{ // auth gate
		peer.AuthGate = authgate.New(log.Named("authgate"), peer.Audit, cfg.Access.AuthorizedPeers)
		if cfg.Access.PairingEnabled {
			if _, err := peer.AuthGate.EnablePairing(10 * time.Minute); err != nil {
				return nil, errs.Combine(Error.Wrap(err), peer.Close())
			}
		}
	}

	{ // governance
		peer.Governance = governance.NewEngine(governance.Config{
			MaxTestsPerHourPerPeer: cfg.Quotas.MaxTestsPerHourPerPeer,
			CooldownSec:            cfg.Quotas.CooldownSec,
			MaxBytesPerDayPerPeer:  cfg.Quotas.MaxBytesPerDayPerPeer,
			AllowUDPEcho:           cfg.Quotas.AllowUDPEcho,
			AllowThroughput:        cfg.Quotas.AllowThroughput,
		})
	}

	{ // session manager
		peer.Sessions = session.NewManager(
			cfg.Quotas.MaxConcurrentTests,
			time.Duration(cfg.Quotas.MaxTestDurationSec)*time.Second,
			5*time.Second,
		)
	}

	{ // engines
		peer.Throughput = throughput.NewEngine(log.Named("throughput"), throughput.Config{
			Path:            cfg.Throughput.Path,
			PortLow:         cfg.Network.DataPortRangeStart,
			PortHigh:        cfg.Network.DataPortRangeEnd,
			MaxPortAttempts: 50,
			TeardownGrace:   5 * time.Second,
		})
		peer.UDPEcho = udpecho.NewEngine(log.Named("udpecho"), udpecho.Config{
			MaxDatagramBytes:    1400,
			PacketsPerSecond:    1000,
			ReportEveryPackets:  100,
			ReportEveryInterval: 5 * time.Second,
		})
	}

	{ // control listener
		_, tlsCert, err := identity.Certificate(peer.Identity)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}

		peer.Control.Listener, err = tlslistener.Bind(log.Named("listener"), cfg.Network.ListenAddress, tlsCert, cfg.Network.ALPN)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Close())
		}
	}

	{ // health endpoint, always served by Run on 127.0.0.1:9080
		peer.Health = healthsrv.New(log.Named("health"), "dev", func() float64 {
			snap := peer.Sessions.Status()
			if snap.MaxConcurrentTests == 0 {
				return 0
			}
			return float64(snap.ActiveSessions) / float64(snap.MaxConcurrentTests)
		})
	}

	return peer, nil
}

// Run accepts connections and runs background tasks until ctx is
// cancelled.
func (peer *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var group errgroup.Group

	peer.Sessions.StartReaper(ctx, &group, reapInterval)

	group.Go(func() error {
		return ignoreCancel(peer.Health.Serve(ctx, "127.0.0.1:9080"))
	})

	if peer.Config.Admin.SocketPath != "" {
		group.Go(func() error {
			return ignoreCancel(adminsock.Serve(ctx, peer.Log.Named("adminsock"), peer.Config.Admin.SocketPath, peer))
		})
	}

	group.Go(func() error {
		return peer.acceptLoop(ctx)
	})

	return group.Wait()
}

// EnablePairing implements adminsock.Dispatcher.
func (peer *Peer) EnablePairing(ttlSec int64) (token, endpointID string, err error) {
	ttl := time.Duration(ttlSec) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	token, err = peer.AuthGate.EnablePairing(ttl)
	if err != nil {
		return "", "", err
	}
	return token, peer.Identity.EndpointID(), nil
}

// Status implements adminsock.Dispatcher.
func (peer *Peer) Status() adminsock.Response {
	snap := peer.Sessions.Status()
	return adminsock.Response{
		ActiveSessions:     snap.ActiveSessions,
		MaxConcurrentTests: snap.MaxConcurrentTests,
		AuditDegraded:      peer.Audit.DegradedCount(),
	}
}

func (peer *Peer) acceptLoop(ctx context.Context) error {
	for {
		conn, err := peer.Control.Listener.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return Error.Wrap(err)
		}

		go peer.handleConnection(ctx, conn)
	}
}

func ignoreCancel(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}

// Close tears down every component in reverse initialization order.
func (peer *Peer) Close() error {
	var errlist errs.Group

	if peer.Control.Listener != nil {
		errlist.Add(peer.Control.Listener.Close())
	}
	if peer.Sessions != nil {
		peer.Sessions.Close()
	}
	if peer.Audit != nil {
		errlist.Add(peer.Audit.Close())
	}
	if peer.Identity != nil {
		peer.Identity.Zero()
	}

	return errlist.Err()
}
