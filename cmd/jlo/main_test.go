package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func useRoot(t *testing.T, root string) {
	t.Helper()
	viper.Set("root", root)
	viper.Set("state-dir", "")
	t.Cleanup(func() {
		viper.Set("root", ".")
		viper.Set("state-dir", "")
	})
}

func TestPRCell(t *testing.T) {
	require.Equal(t, "", prCell(0, ""))
	require.Equal(t, "#4", prCell(4, ""))
	require.Equal(t, "#4 https://x/pull/4", prCell(4, "https://x/pull/4"))
}

func TestStateDirResolvesUnderRoot(t *testing.T) {
	root := t.TempDir()
	useRoot(t, root)
	rt, err := newRuntime()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, ".jlo", ".state"), rt.stateDir())

	viper.Set("state-dir", "/var/tmp/jlo")
	require.Equal(t, "/var/tmp/jlo", rt.stateDir())
}

func TestValidateConfig(t *testing.T) {
	root := t.TempDir()
	useRoot(t, root)
	require.NoError(t, validateConfig())

	require.NoError(t, os.MkdirAll(filepath.Join(root, ".jlo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".jlo", "scheduled.yml"), []byte("version: 2\nenabled: false\n"), 0o644))
	err := validateConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "version")
}
