// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit codes, one per failure class named in §6.1/§7.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitNotReady      = 2
	exitRuntimeError  = 3
	exitIdentityError = 4
)

var configPathFlag string

func main() {
	root := &cobra.Command{
		Use:   "reflector",
		Short: "Self-hosted mTLS network test endpoint",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPathFlag, "config", "", "path to config.yaml (overrides REFLECTOR_CONFIG)")

	root.AddCommand(
		newServeCommand(),
		newPairCommand(),
		newRotateIdentityCommand(),
		newStatusCommand(),
		newShowIDCommand(),
		newSelfTestCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitError pairs an error with the exit code its failure class maps
// to, so cobra's generic Execute() error path still exits precisely.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error  { return e.err }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	return exitRuntimeError
}

func newLogger() *zap.Logger {
	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}
