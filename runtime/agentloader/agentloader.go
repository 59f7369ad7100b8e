// Package agentloader implements executor.AgentLoader by resolving an
// agent reference to a file on disk (via pathresolve.Resolver, which
// already enforces the workspace guard and pack-ref syntax) and parsing
// it with agentparser.Parse.
package agentloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aipack-run/aipack/runtime/agentparser"
	"github.com/aipack-run/aipack/runtime/executor"
	"github.com/aipack-run/aipack/runtime/packstore"
	"github.com/aipack-run/aipack/runtime/pathresolve"
)

// Loader resolves agent-or-pack-ref strings against a Resolver/Store
// pair and parses the resulting file. Config, when set, is merged under
// the parsed agent's own Options (spec §6 precedence: agent # Options
// outranks workspace/base config) before Load returns.
type Loader struct {
	Resolver *pathresolve.Resolver
	Packs    *packstore.Store
	Config   agentparser.Options
}

// New builds a Loader.
func New(resolver *pathresolve.Resolver, packs *packstore.Store, cfg agentparser.Options) *Loader {
	return &Loader{Resolver: resolver, Packs: packs, Config: cfg}
}

var _ executor.AgentLoader = (*Loader)(nil)

// Load resolves ref to an *agentparser.Agent. relativeTo, when set, is
// tried first against a bare (non pack-ref, non-absolute) ref so a
// sub-agent name resolves relative to its caller's directory (spec
// §4.10.3 step 1) before falling back to workspace-root resolution.
func (l *Loader) Load(ref string, relativeTo string) (*agentparser.Agent, error) {
	if relativeTo != "" && !isPackRef(ref) && !filepath.IsAbs(ref) {
		candidate := filepath.Join(relativeTo, ref)
		if _, err := os.Stat(candidate); err == nil {
			return l.parseFile(candidate, ref)
		}
	}

	if isPackRef(ref) {
		ns, pack, err := splitPackRef(ref)
		if err != nil {
			return nil, err
		}
		path, perr := l.resolvePackFile(ns, pack)
		if perr != nil {
			if errors.Is(perr, os.ErrNotExist) {
				return nil, executor.ErrInstallRequired
			}
			return nil, perr
		}
		return l.parseFile(path, ref)
	}

	path, err := l.Resolver.Resolve(ref, false)
	if err != nil {
		return nil, err
	}
	return l.parseFile(path, ref)
}

// resolvePackFile finds the agent file within an installed pack's root
// directory: main.aip by convention, falling back to the pack's sole
// .aip file when main.aip is absent.
func (l *Loader) resolvePackFile(ns, pack string) (string, error) {
	root, err := l.Packs.PackRoot(ns, pack)
	if err != nil {
		return "", os.ErrNotExist
	}
	main := filepath.Join(root, "main.aip")
	if _, err := os.Stat(main); err == nil {
		return main, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	var only string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".aip" {
			continue
		}
		if only != "" {
			return "", fmt.Errorf("agentloader: pack %s@%s has multiple agents and no main.aip", ns, pack)
		}
		only = filepath.Join(root, e.Name())
	}
	if only == "" {
		return "", os.ErrNotExist
	}
	return only, nil
}

func (l *Loader) parseFile(path, name string) (*agentparser.Agent, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentloader: read %s: %w", path, err)
	}
	agent, err := agentparser.Parse(string(b), name, path)
	if err != nil {
		return nil, err
	}
	agent.Options = agentparser.MergeOptions(l.Config, agent.Options)
	if err := agentparser.ValidateOptions(agent.Options); err != nil {
		return nil, fmt.Errorf("agentloader: %s: %w", path, err)
	}
	return agent, nil
}

func isPackRef(p string) bool {
	at := strings.Index(p, "@")
	return at > 0 && !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "~") && !strings.HasPrefix(p, "$")
}

func splitPackRef(ref string) (ns, pack string, err error) {
	at := strings.Index(ref, "@")
	if at <= 0 {
		return "", "", fmt.Errorf("agentloader: invalid pack ref %q", ref)
	}
	return ref[:at], ref[at+1:], nil
}
