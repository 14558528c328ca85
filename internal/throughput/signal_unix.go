// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

//go:build !windows

package throughput

import (
	"os"
	"syscall"
)

// signalForPoliteStop returns the signal used to ask a test-server
// child process to shut down cleanly before it is forcibly killed.
func signalForPoliteStop() os.Signal {
	return syscall.SIGTERM
}
