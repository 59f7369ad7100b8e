package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkspaceConfigWinsOverBase(t *testing.T) {
	ws := t.TempDir()
	base := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".aipack"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".aipack", "config.toml"), []byte(`model = "gpt-4o"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "config-default.toml"), []byte(`model = "claude-3-haiku"
input_concurrency = 4`), 0o644))

	l, err := Load(ws, base)
	require.NoError(t, err)

	merged := l.Merged()
	require.Equal(t, "gpt-4o", merged.Model)
	require.Equal(t, 4, merged.InputConcurrency)
}

func TestMissingConfigFilesYieldZeroLayers(t *testing.T) {
	l, err := Load(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "", l.Merged().Model)
}

func TestBaseUserOverridesBaseDefault(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "config-default.toml"), []byte(`model = "claude-3-haiku"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "config-user.toml"), []byte(`model = "gpt-4o-mini"`), 0o644))

	l, err := Load(t.TempDir(), base)
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", l.Base.Model)
}
