// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storj.io/reflector/internal/config"
	"storj.io/reflector/internal/identity"
)

func newRotateIdentityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-identity",
		Short: "Replace identity key; print new Endpoint ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(config.Overrides{ConfigPath: configPathFlag})
			if err != nil {
				return &exitError{code: exitConfigError, err: err}
			}

			ident, err := identity.Rotate(cfg.Identity.PrivateKeyPath)
			if err != nil {
				return &exitError{code: exitIdentityError, err: err}
			}

			fmt.Printf("endpoint_id: %s\n", ident.EndpointID())
			return nil
		},
	}
}

func newShowIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show-id",
		Short: "Print Endpoint ID only",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(config.Overrides{ConfigPath: configPathFlag})
			if err != nil {
				return &exitError{code: exitConfigError, err: err}
			}

			ident, err := identity.LoadOrCreate(cfg.Identity.PrivateKeyPath)
			if err != nil {
				return &exitError{code: exitIdentityError, err: err}
			}

			fmt.Println(ident.EndpointID())
			return nil
		},
	}
}
