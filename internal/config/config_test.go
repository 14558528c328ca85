// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration_AcceptsAllLiteralForms(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"10m": 10 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
	}
	for literal, want := range cases {
		got, err := ParseDuration(literal)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseDuration_RejectsGarbage(t *testing.T) {
	_, err := ParseDuration("banana")
	assert.Error(t, err)
}

func TestResolve_ExplicitPathOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network:
  listen_address: ":9999"
quotas:
  max_concurrent_tests: 2
`), 0600))

	cfg, err := Resolve(Overrides{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Network.ListenAddress)
	assert.Equal(t, 2, cfg.Quotas.MaxConcurrentTests)
	// Untouched sections keep built-in defaults.
	assert.Equal(t, "pp-link/1", cfg.Network.ALPN)
}

func TestResolve_FlagOverrideBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network:
  listen_address: ":9999"
`), 0600))

	cfg, err := Resolve(Overrides{ConfigPath: path, ListenAddress: ":1234"})
	require.NoError(t, err)
	assert.Equal(t, ":1234", cfg.Network.ListenAddress)
}

func TestResolve_EnvVarSelectsConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
`), 0600))

	t.Setenv(EnvConfigPath, path)

	cfg, err := Resolve(Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestResolve_NoFileFoundReturnsDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Resolve(Overrides{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
