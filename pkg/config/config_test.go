package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadYAML(t *testing.T) {
	cfg, err := Load([]byte("storage:\n  root: /var/lib/spfs\nlog:\n  level: debug\nruntime: build-7\n"))
	require.NoError(t, err)
	require.Equal(t, "/var/lib/spfs", cfg.Storage.Root)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "build-7", cfg.Runtime)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SPFS_STORAGE_ROOT", "/srv/spfs")
	t.Setenv("SPFS_RUNTIME", "rt-from-env")

	cfg, err := Load([]byte("storage:\n  root: /var/lib/spfs\n"))
	require.NoError(t, err)
	require.Equal(t, "/srv/spfs", cfg.Storage.Root)
	require.Equal(t, "rt-from-env", cfg.Runtime)
}

func TestLoadFileMissingFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Storage.Root)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  root: /data/spfs\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "/data/spfs", cfg.Storage.Root)
}
