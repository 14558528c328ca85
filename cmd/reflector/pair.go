// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storj.io/reflector/internal/adminsock"
	"storj.io/reflector/internal/config"
)

func newPairCommand() *cobra.Command {
	var ttlFlag string

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Enable pairing, print Endpoint ID and one-time token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(config.Overrides{ConfigPath: configPathFlag})
			if err != nil {
				return &exitError{code: exitConfigError, err: err}
			}

			ttl, err := config.ParseDuration(ttlFlag)
			if err != nil {
				return &exitError{code: exitConfigError, err: err}
			}

			// Pairing is runtime-only state (§6.4): it must be enabled
			// on the already-running `serve` process, reached through
			// its local admin socket.
			resp, err := adminsock.Call(cfg.Admin.SocketPath, adminsock.Request{
				Command: "enable_pairing",
				TTLSec:  int64(ttl.Seconds()),
			})
			if err != nil {
				return &exitError{code: exitRuntimeError, err: fmt.Errorf("reflector serve must be running to pair: %w", err)}
			}

			fmt.Printf("endpoint_id: %s\n", resp.EndpointID)
			fmt.Printf("pairing_token: %s\n", resp.Token)
			return nil
		},
	}

	cmd.Flags().StringVar(&ttlFlag, "ttl", "10m", "pairing window duration")
	return cmd
}
