// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package identity

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	first, err := LoadOrCreate(path)
	require.NoError(t, err)

	second, err := LoadOrCreate(path)
	require.NoError(t, err)

	assert.Equal(t, first.PrivateKey, second.PrivateKey)
	assert.Equal(t, first.EndpointID(), second.EndpointID())
}

func TestLoadOrCreate_RejectsUnsafePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits not meaningful on windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	_, err := LoadOrCreate(path)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(path, 0644))

	_, err = LoadOrCreate(path)
	assert.Error(t, err)
}

func TestRotate_ChangesEndpointIDButWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.key")

	original, err := LoadOrCreate(path)
	require.NoError(t, err)

	rotated, err := Rotate(path)
	require.NoError(t, err)
	assert.NotEqual(t, original.EndpointID(), rotated.EndpointID())

	reloaded, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, rotated.EndpointID(), reloaded.EndpointID())
}
