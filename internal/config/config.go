// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package config loads the Reflector's layered configuration (§6.2):
// a YAML file overlaid with flag/env values, in the precedence order
// explicit flag/env > system-wide path > user-scope path > built-in
// defaults. Duration settings accept the literal forms 30s, 10m, 1h,
// 1d.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"gopkg.in/yaml.v2"
)

// Error is the errs class for configuration failures.
var Error = errs.Class("config error")

// EnvConfigPath is the environment variable naming an explicit config
// file path, taking precedence over the discovered search path.
const EnvConfigPath = "REFLECTOR_CONFIG"

// SystemWidePath and UserScopePath are searched, in that order, when no
// explicit path is given.
const (
	SystemWidePath = "/etc/reflector/config.yaml"
)

// UserScopePath returns the per-user config path under home, or "" if
// the home directory cannot be determined.
func UserScopePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "reflector", "config.yaml")
}

// Identity holds the identity section (§6.2).
type Identity struct {
	PrivateKeyPath string `yaml:"private_key_path"`
}

// Network holds the network section.
type Network struct {
	ListenAddress       string `yaml:"listen_address"`
	ALPN                string `yaml:"alpn"`
	Mode                string `yaml:"mode"`
	DataPortRangeStart  int    `yaml:"data_port_range_start"`
	DataPortRangeEnd    int    `yaml:"data_port_range_end"`
}

// Access holds the access-control section.
type Access struct {
	PairingEnabled  bool     `yaml:"pairing_enabled"`
	AuthorizedPeers []string `yaml:"authorized_peers"`
}

// Quotas holds the governance section. Durations are whole seconds
// (the *_sec fields); the literal forms of ParseDuration are not
// accepted here.
type Quotas struct {
	MaxTestDurationSec     int   `yaml:"max_test_duration_sec"`
	MaxConcurrentTests     int   `yaml:"max_concurrent_tests"`
	MaxTestsPerHourPerPeer int   `yaml:"max_tests_per_hour_per_peer"`
	MaxBytesPerDayPerPeer  int64 `yaml:"max_bytes_per_day_per_peer"`
	CooldownSec            int   `yaml:"cooldown_sec"`
	AllowUDPEcho           bool  `yaml:"allow_udp_echo"`
	AllowThroughput        bool  `yaml:"allow_throughput"`
}

// Throughput holds the throughput engine section.
type Throughput struct {
	Path           string `yaml:"path"`
	DefaultStreams int    `yaml:"default_streams"`
	MaxStreams     int    `yaml:"max_streams"`
}

// Logging holds the logging section.
type Logging struct {
	Level        string `yaml:"level"`
	AuditLogPath string `yaml:"audit_log_path"`
}

// Admin holds the local control-socket section. This section is not
// named in §6.2's settings table; it supplements the spec so that CLI
// commands like `pair` (§6.1) can reach runtime-only state (§6.4) held
// by an already-running `serve` process.
type Admin struct {
	SocketPath string `yaml:"socket_path"`
}

// Config is the fully-resolved Reflector configuration.
type Config struct {
	Identity   Identity   `yaml:"identity"`
	Network    Network    `yaml:"network"`
	Access     Access     `yaml:"access"`
	Quotas     Quotas     `yaml:"quotas"`
	Throughput Throughput `yaml:"throughput"`
	Logging    Logging    `yaml:"logging"`
	Admin      Admin      `yaml:"admin"`
}

// Default returns the built-in defaults, the bottom of the precedence
// stack.
func Default() Config {
	return Config{
		Identity: Identity{PrivateKeyPath: "/var/lib/reflector/identity.key"},
		Network: Network{
			ListenAddress:      ":4000",
			ALPN:               "pp-link/1",
			Mode:               "direct_ephemeral",
			DataPortRangeStart: 30000,
			DataPortRangeEnd:   31000,
		},
		Access: Access{PairingEnabled: false},
		Quotas: Quotas{
			MaxTestDurationSec:     60,
			MaxConcurrentTests:     4,
			MaxTestsPerHourPerPeer: 10,
			MaxBytesPerDayPerPeer:  1 << 30,
			CooldownSec:            5,
			AllowUDPEcho:           true,
			AllowThroughput:        true,
		},
		Throughput: Throughput{
			Path:           "/usr/local/bin/reflector-throughput-server",
			DefaultStreams: 1,
			MaxStreams:     4,
		},
		Logging: Logging{Level: "info", AuditLogPath: "/var/lib/reflector/audit.log"},
		Admin:   Admin{SocketPath: "/var/lib/reflector/admin.sock"},
	}
}

// Overrides carries the explicit flag/env values that sit at the top
// of the precedence stack; a zero-value field means "not set".
type Overrides struct {
	ListenAddress string
	ConfigPath    string
}

// Resolve loads configuration following §6.2's precedence: explicit
// flag/env path, else the system-wide path, else the user-scope path,
// else built-in defaults; then applies overrides on top of whichever
// file (if any) was found.
func Resolve(overrides Overrides) (Config, error) {
	cfg := Default()

	path := resolvePath(overrides.ConfigPath)
	if path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = mergeOnto(cfg, loaded)
	}

	if overrides.ListenAddress != "" {
		cfg.Network.ListenAddress = overrides.ListenAddress
	}

	return cfg, nil
}

func resolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	if fileExists(SystemWidePath) {
		return SystemWidePath
	}
	if p := UserScopePath(); p != "" && fileExists(p) {
		return p
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadFile(path string) (Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, Error.Wrap(err)
	}

	// Start from the defaults so that a boolean the file omits keeps its
	// default instead of reading as false.
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, Error.New("parsing %s: %v", path, err)
	}
	return cfg, nil
}

// mergeOnto overlays the non-zero fields of loaded onto base, section
// by section; booleans are copied as loaded, which keeps the default for
// any boolean the file omits because loadFile starts from Default().
// Every section is optional in the file (§6.2).
func mergeOnto(base, loaded Config) Config {
	if loaded.Identity.PrivateKeyPath != "" {
		base.Identity.PrivateKeyPath = loaded.Identity.PrivateKeyPath
	}
	if loaded.Network.ListenAddress != "" {
		base.Network.ListenAddress = loaded.Network.ListenAddress
	}
	if loaded.Network.ALPN != "" {
		base.Network.ALPN = loaded.Network.ALPN
	}
	if loaded.Network.Mode != "" {
		base.Network.Mode = loaded.Network.Mode
	}
	if loaded.Network.DataPortRangeStart != 0 {
		base.Network.DataPortRangeStart = loaded.Network.DataPortRangeStart
	}
	if loaded.Network.DataPortRangeEnd != 0 {
		base.Network.DataPortRangeEnd = loaded.Network.DataPortRangeEnd
	}
	base.Access.PairingEnabled = loaded.Access.PairingEnabled
	if len(loaded.Access.AuthorizedPeers) > 0 {
		base.Access.AuthorizedPeers = loaded.Access.AuthorizedPeers
	}
	if loaded.Quotas.MaxTestDurationSec != 0 {
		base.Quotas.MaxTestDurationSec = loaded.Quotas.MaxTestDurationSec
	}
	if loaded.Quotas.MaxConcurrentTests != 0 {
		base.Quotas.MaxConcurrentTests = loaded.Quotas.MaxConcurrentTests
	}
	if loaded.Quotas.MaxTestsPerHourPerPeer != 0 {
		base.Quotas.MaxTestsPerHourPerPeer = loaded.Quotas.MaxTestsPerHourPerPeer
	}
	if loaded.Quotas.MaxBytesPerDayPerPeer != 0 {
		base.Quotas.MaxBytesPerDayPerPeer = loaded.Quotas.MaxBytesPerDayPerPeer
	}
	if loaded.Quotas.CooldownSec != 0 {
		base.Quotas.CooldownSec = loaded.Quotas.CooldownSec
	}
	base.Quotas.AllowUDPEcho = loaded.Quotas.AllowUDPEcho
	base.Quotas.AllowThroughput = loaded.Quotas.AllowThroughput
	if loaded.Throughput.Path != "" {
		base.Throughput.Path = loaded.Throughput.Path
	}
	if loaded.Throughput.DefaultStreams != 0 {
		base.Throughput.DefaultStreams = loaded.Throughput.DefaultStreams
	}
	if loaded.Throughput.MaxStreams != 0 {
		base.Throughput.MaxStreams = loaded.Throughput.MaxStreams
	}
	if loaded.Logging.Level != "" {
		base.Logging.Level = loaded.Logging.Level
	}
	if loaded.Logging.AuditLogPath != "" {
		base.Logging.AuditLogPath = loaded.Logging.AuditLogPath
	}
	if loaded.Admin.SocketPath != "" {
		base.Admin.SocketPath = loaded.Admin.SocketPath
	}
	return base
}

// ParseDuration parses the literal forms accepted by §6.1/§6.2: the
// standard Go duration suffixes, plus "d" for a day, which
// time.ParseDuration does not itself support.
func ParseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		numeric := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(numeric)
		if err != nil {
			return 0, Error.New("invalid day literal %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, Error.New("invalid duration %q: %v", s, err)
	}
	return d, nil
}
