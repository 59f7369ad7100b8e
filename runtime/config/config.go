// Package config loads the workspace/base configuration layers of
// spec §6's precedence chain ("Lua flow-response -> agent # Options ->
// workspace config -> base config"). Both layers are plain TOML files
// decoding directly into agentparser.Options, the same shape used by
// the agent's own # Options block, so Load can feed straight into
// agentparser.MergeOptions alongside the agent and Lua-override layers.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/aipack-run/aipack/runtime/agentparser"
)

// Layers holds the two file-backed precedence layers below the agent
// itself: workspace config.toml (higher) and base config-default.toml
// merged under config-user.toml (lower, spec §6 "Workspace layout").
type Layers struct {
	Workspace agentparser.Options
	Base      agentparser.Options
}

// Load reads <workspaceDir>/.aipack/config.toml and
// <baseDir>/config-default.toml + <baseDir>/config-user.toml, each
// optional. A missing file yields a zero-value Options for that layer
// rather than an error.
func Load(workspaceDir, baseDir string) (Layers, error) {
	base, err := mergeFiles(
		filepath.Join(baseDir, "config-default.toml"),
		filepath.Join(baseDir, "config-user.toml"),
	)
	if err != nil {
		return Layers{}, err
	}
	ws, err := decodeFile(filepath.Join(workspaceDir, ".aipack", "config.toml"))
	if err != nil {
		return Layers{}, err
	}
	return Layers{Workspace: ws, Base: base}, nil
}

// Merged returns the two file layers combined with MergeOptions, base
// first so workspace wins ties (spec §6 precedence order).
func (l Layers) Merged() agentparser.Options {
	return agentparser.MergeOptions(l.Base, l.Workspace)
}

func decodeFile(path string) (agentparser.Options, error) {
	var o agentparser.Options
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return o, err
	}
	if _, err := toml.Decode(string(b), &o); err != nil {
		return o, err
	}
	return o, nil
}

func mergeFiles(paths ...string) (agentparser.Options, error) {
	var merged agentparser.Options
	for _, p := range paths {
		o, err := decodeFile(p)
		if err != nil {
			return agentparser.Options{}, err
		}
		merged = agentparser.MergeOptions(merged, o)
	}
	return merged, nil
}
