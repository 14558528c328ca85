// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"storj.io/reflector/internal/config"
	"storj.io/reflector/internal/reflector"
)

func newServeCommand() *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the accept loop until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(config.Overrides{ConfigPath: configPathFlag, ListenAddress: bind})
			if err != nil {
				return &exitError{code: exitConfigError, err: err}
			}

			log := newLogger()
			defer func() { _ = log.Sync() }()

			peer, err := reflector.New(log, cfg)
			if err != nil {
				return &exitError{code: exitIdentityError, err: err}
			}
			defer func() { _ = peer.Close() }()

			log.Sugar().Infof("reflector endpoint %s listening on %s", peer.Identity.EndpointID(), cfg.Network.ListenAddress)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := peer.Run(ctx); err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "override the configured listen address")
	return cmd
}
