// Package agentparser parses an .aip agent file (Markdown with a fixed
// set of top-level sections) into a typed Agent: ordered prompt parts,
// the BeforeAll/Data/Output/AfterAll script bodies, and an Options
// record. Heading aliases and three- or four-backtick fences are both
// accepted, matching spec §4.6/§6.
package agentparser

// PartKind identifies which prompt-part section a PromptPart came from.
type PartKind string

const (
	PartSystem      PartKind = "system"
	PartInstruction PartKind = "instruction"
	PartAssistant   PartKind = "assistant"
)

// PartOptions holds part-local options declared in a leading #!meta TOML
// block (spec §6: "notably cache = bool").
type PartOptions struct {
	Cache bool `toml:"cache"`
}

// PromptPart is one rendered-template section of the agent's prompt.
type PromptPart struct {
	Kind     PartKind
	Template string
	Options  PartOptions
}

// Options is the agent-level Options record (spec §4.6), decoded from the
// optional "# Options" TOML block and merged, at higher layers, with
// config-file layers and the Lua-override layer per the precedence in
// spec §6. #!meta blocks are not merged into Options; they set only the
// part-local PartOptions of the prompt part that holds them.
type Options struct {
	Model            string            `toml:"model" json:"model,omitempty"`
	InputConcurrency int               `toml:"input_concurrency" json:"input_concurrency,omitempty"`
	Temperature      *float64          `toml:"temperature" json:"temperature,omitempty"`
	TopP             *float64          `toml:"top_p" json:"top_p,omitempty"`
	ModelAliases     map[string]string `toml:"model_aliases" json:"model_aliases,omitempty"`
}

// DefaultInputConcurrency is used when Options.InputConcurrency is unset
// (zero) at every precedence layer (spec §4.6.4 "default 1").
const DefaultInputConcurrency = 1

// EffectiveInputConcurrency returns InputConcurrency, defaulting to
// DefaultInputConcurrency when unset.
func (o Options) EffectiveInputConcurrency() int {
	if o.InputConcurrency <= 0 {
		return DefaultInputConcurrency
	}
	return o.InputConcurrency
}

// Agent is the parsed form of a ".aip" file.
type Agent struct {
	Name       string
	SourcePath string
	Options    Options
	BeforeAll  string // script body, empty if section absent
	Data       string
	PromptParts []PromptPart
	Output     string
	AfterAll   string
}

// HasScript reports whether s is a non-empty script body.
func HasScript(s string) bool { return s != "" }
