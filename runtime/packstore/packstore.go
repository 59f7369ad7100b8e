// Package packstore implements pathresolve.PackLocator against the
// on-disk pack layout spec §6 describes: installed packs live under
// <base>/pack/installed/<ns>/<pack>, with optional workspace- and
// base-local overrides taking precedence in that order.
package packstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aipack-run/aipack/runtime/pathresolve"
)

// Store locates packs on disk. It satisfies pathresolve.PackLocator.
type Store struct {
	WorkspaceDir string
	BaseDir      string
}

var _ pathresolve.PackLocator = (*Store)(nil)

// New builds a Store rooted at the given workspace and base directories.
func New(workspaceDir, baseDir string) *Store {
	return &Store{WorkspaceDir: workspaceDir, BaseDir: baseDir}
}

// PackRoot returns the resolved root directory for ns@pack, checking
// workspace custom, then base custom, then installed packs in order.
func (s *Store) PackRoot(ns, pack string) (string, error) {
	candidates := []string{
		filepath.Join(s.WorkspaceDir, ".aipack", "custom", "pack", ns, pack),
		filepath.Join(s.BaseDir, "custom", "pack", ns, pack),
		filepath.Join(s.BaseDir, "pack", "installed", ns, pack),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("packstore: pack %s@%s not found in %v", ns, pack, candidates)
}

// PackWorkspaceSupportDir returns <workspace>/.aipack/support/pack/ns/pack.
func (s *Store) PackWorkspaceSupportDir(ns, pack string) string {
	return filepath.Join(s.WorkspaceDir, ".aipack", "support", "pack", ns, pack)
}

// PackBaseSupportDir returns <base>/support/pack/ns/pack.
func (s *Store) PackBaseSupportDir(ns, pack string) string {
	return filepath.Join(s.BaseDir, "support", "pack", ns, pack)
}

// InstalledRoot returns the directory new packs are installed into.
func (s *Store) InstalledRoot(ns, pack string) string {
	return filepath.Join(s.BaseDir, "pack", "installed", ns, pack)
}
