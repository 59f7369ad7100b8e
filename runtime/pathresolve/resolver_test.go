package pathresolve

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePacks struct{ root string }

func (f fakePacks) PackRoot(ns, pack string) (string, error) {
	return filepath.Join(f.root, "installed", ns, pack), nil
}
func (f fakePacks) PackWorkspaceSupportDir(ns, pack string) string {
	return filepath.Join(f.root, "ws-support", ns, pack)
}
func (f fakePacks) PackBaseSupportDir(ns, pack string) string {
	return filepath.Join(f.root, "base-support", ns, pack)
}

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	ws := t.TempDir()
	base := t.TempDir()
	r, err := New(ws, base, "sess-1", t.TempDir(), fakePacks{root: base})
	require.NoError(t, err)
	return r
}

func TestResolveWorkspaceRelative(t *testing.T) {
	r := testResolver(t)
	abs, err := r.Resolve("foo/bar.txt", false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(r.WorkspaceDir, "foo/bar.txt"), abs)
}

func TestResolveHomeAndTmp(t *testing.T) {
	r := testResolver(t)
	abs, err := r.Resolve("~/config.toml", false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(r.HomeDir, "config.toml"), abs)

	abs, err = r.Resolve("$tmp/scratch.txt", false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(r.SessionTmpDir(), "scratch.txt"), abs)
}

func TestResolvePackRef(t *testing.T) {
	r := testResolver(t)
	abs, err := r.Resolve("ns@pack/agents/demo.aip", false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(r.BaseDir, "installed", "ns", "pack", "agents/demo.aip"), abs)

	abs, err = r.Resolve("ns@pack$workspace/data.json", false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(r.BaseDir, "ws-support", "ns", "pack", "data.json"), abs)
}

func TestWriteGuardRejectsEscapeAndBase(t *testing.T) {
	r := testResolver(t)
	_, err := r.Resolve("../../etc/passwd", true)
	require.ErrorIs(t, err, ErrWorkspaceGuardViolation)

	_, err = r.Resolve("ns@pack$base/data.json", true)
	require.ErrorIs(t, err, ErrWorkspaceGuardViolation)

	// writes within the workspace succeed.
	abs, err := r.Resolve("out.txt", true)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(r.WorkspaceDir, "out.txt"), abs)

	// writes within session tmp succeed even though outside workspace dir proper? tmp IS under workspace here.
	abs, err = r.Resolve("$tmp/x.txt", true)
	require.NoError(t, err)
	require.Contains(t, abs, fmt.Sprintf("%s", r.SessionTmpDir()))
}
