package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/trust"
)

func runFolders(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newFoldersCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestFoldersSetTrust(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, runFolders(t, "add", dir))
	require.NoError(t, runFolders(t, "set-trust", dir, "strict"))

	store, err := openTrustStore()
	require.NoError(t, err)
	level, ok := store.LevelFor(dir)
	require.True(t, ok)
	assert.Equal(t, trust.LevelStrict, level)
}

func TestFoldersSetTrustUnknownFolder(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	err = runFolders(t, "set-trust", dir, "trust")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")
}
