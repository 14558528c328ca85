// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"storj.io/reflector/internal/config"
	"storj.io/reflector/internal/identity"
)

type selfTestCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type selfTestReport struct {
	Ready  bool            `json:"ready"`
	Checks []selfTestCheck `json:"checks"`
}

func newSelfTestCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "self-test",
		Short: "Check host readiness: config, identity, audit log, control port",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runSelfTest()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return &exitError{code: exitRuntimeError, err: err}
				}
			} else {
				for _, c := range report.Checks {
					status := "ok"
					if !c.OK {
						status = "FAIL: " + c.Error
					}
					fmt.Printf("%-20s %s\n", c.Name, status)
				}
			}

			if !report.Ready {
				return &exitError{code: exitNotReady, err: fmt.Errorf("host is not ready")}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}

func runSelfTest() selfTestReport {
	var checks []selfTestCheck
	ready := true

	addCheck := func(name string, err error) {
		c := selfTestCheck{Name: name, OK: err == nil}
		if err != nil {
			c.Error = err.Error()
			ready = false
		}
		checks = append(checks, c)
	}

	cfg, err := config.Resolve(config.Overrides{ConfigPath: configPathFlag})
	addCheck("config", err)
	if err != nil {
		return selfTestReport{Ready: false, Checks: checks}
	}

	_, identErr := identity.LoadOrCreate(cfg.Identity.PrivateKeyPath)
	addCheck("identity", identErr)

	auditErr := checkWritableDir(filepath.Dir(cfg.Logging.AuditLogPath))
	addCheck("audit_log_dir", auditErr)

	bindErr := checkBindable(cfg.Network.ListenAddress)
	addCheck("control_port", bindErr)

	return selfTestReport{Ready: ready, Checks: checks}
}

func checkWritableDir(dir string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".reflector-selftest")
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	_ = f.Close()
	return os.Remove(probe)
}

func checkBindable(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return l.Close()
}
