// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storj.io/reflector/internal/adminsock"
	"storj.io/reflector/internal/config"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print live session/audit stats, or a config summary if not running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(config.Overrides{ConfigPath: configPathFlag})
			if err != nil {
				return &exitError{code: exitConfigError, err: err}
			}

			resp, err := adminsock.Call(cfg.Admin.SocketPath, adminsock.Request{Command: "status"})
			if err != nil {
				fmt.Println("reflector is not running; showing configured limits only")
				fmt.Printf("listen_address: %s\n", cfg.Network.ListenAddress)
				fmt.Printf("max_concurrent_tests: %d\n", cfg.Quotas.MaxConcurrentTests)
				fmt.Printf("max_test_duration_sec: %d\n", cfg.Quotas.MaxTestDurationSec)
				return nil
			}

			fmt.Printf("active_sessions: %d\n", resp.ActiveSessions)
			fmt.Printf("max_concurrent_tests: %d\n", resp.MaxConcurrentTests)
			fmt.Printf("audit_degraded: %d\n", resp.AuditDegraded)
			return nil
		},
	}
}
