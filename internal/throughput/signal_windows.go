// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

//go:build windows

package throughput

import "os"

// signalForPoliteStop returns the signal used to ask a test-server
// child process to shut down cleanly before it is forcibly killed.
// Windows has no SIGTERM equivalent deliverable via os.Process.Signal,
// so the polite phase sends os.Kill: the child is killed at once and
// Stop returns as soon as it has exited, without a grace wait.
func signalForPoliteStop() os.Signal {
	return os.Kill
}
