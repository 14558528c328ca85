// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package healthsrv implements the optional plain-HTTP health
// sub-endpoint (§6.3): a single unauthenticated GET returning a JSON
// object with status, version, and load, served without TLS.
package healthsrv

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the errs class for health server failures.
var Error = errs.Class("health server error")

// LoadFunc reports a point-in-time load figure, typically active
// session count over configured concurrency ceiling.
type LoadFunc func() float64

// Server serves the /healthz endpoint.
type Server struct {
	log     *zap.Logger
	version string
	load    LoadFunc

	httpServer *http.Server
}

type response struct {
	Status  string  `json:"status"`
	Version string  `json:"version"`
	Load    float64 `json:"load"`
}

// New creates a health Server. version is embedded in every response;
// load is invoked fresh for every request.
func New(log *zap.Logger, version string, load LoadFunc) *Server {
	s := &Server{log: log, version: version, load: load}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	s.httpServer = &http.Server{Handler: router}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok", Version: s.version, Load: s.load()}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to encode health response", zap.Error(err))
	}
}

// Serve runs the health server on the given listen address until ctx
// is done.
func (s *Server) Serve(ctx context.Context, listenAddress string) error {
	ln, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return Error.Wrap(err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return Error.Wrap(s.httpServer.Shutdown(shutdownCtx))
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return Error.Wrap(err)
	}
}

// Close immediately closes the underlying HTTP server.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
