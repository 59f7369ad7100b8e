package agentparser

// MergeOptions layers options from lowest to highest precedence (spec §6:
// "Lua flow-response → agent # Options → workspace config → base
// config", highest first — so callers pass base, then workspace, then
// agent, then the Lua override last). A field wins if it is non-zero in
// a later (higher-precedence) layer; ModelAliases entries merge key by
// key rather than replacing the whole map, so a workspace alias survives
// an agent file that declares only a different alias.
func MergeOptions(layers ...Options) Options {
	var out Options
	for _, l := range layers {
		if l.Model != "" {
			out.Model = l.Model
		}
		if l.InputConcurrency != 0 {
			out.InputConcurrency = l.InputConcurrency
		}
		if l.Temperature != nil {
			out.Temperature = l.Temperature
		}
		if l.TopP != nil {
			out.TopP = l.TopP
		}
		for k, v := range l.ModelAliases {
			if out.ModelAliases == nil {
				out.ModelAliases = map[string]string{}
			}
			out.ModelAliases[k] = v
		}
	}
	return out
}
