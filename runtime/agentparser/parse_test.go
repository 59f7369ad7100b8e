package agentparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleAgent = `# Options

` + "```toml" + `
model = "claude-3-opus"
input_concurrency = 4
` + "```" + `

# Before All

` + "```lua" + `
return aip.flow.before_all_response({ inputs = inputs })
` + "```" + `

# Data

` + "```lua" + `
return { msg = input }
` + "```" + `

# System

You are a helpful assistant.

# Instruction

Summarize: {{input.msg}}

# Output

` + "```lua" + `
return ai_response.content
` + "```" + `

# After All

` + "```lua" + `
return "done"
` + "```" + `
`

func TestParseFullAgent(t *testing.T) {
	a, err := Parse(sampleAgent, "demo", "demo.aip")
	require.NoError(t, err)

	require.Equal(t, "claude-3-opus", a.Options.Model)
	require.Equal(t, 4, a.Options.InputConcurrency)

	require.Contains(t, a.BeforeAll, "before_all_response")
	require.Contains(t, a.Data, "msg = input")
	require.Contains(t, a.Output, "ai_response.content")
	require.Contains(t, a.AfterAll, `"done"`)

	require.Len(t, a.PromptParts, 2)
	require.Equal(t, PartSystem, a.PromptParts[0].Kind)
	require.Contains(t, a.PromptParts[0].Template, "helpful assistant")
	require.Equal(t, PartInstruction, a.PromptParts[1].Kind)
	require.Contains(t, a.PromptParts[1].Template, "Summarize")
}

func TestParseHeadingAliases(t *testing.T) {
	src := "# User\n\nHello {{input}}\n\n# Jedi Trick\n\nBe terse.\n"
	a, err := Parse(src, "aliases", "aliases.aip")
	require.NoError(t, err)
	require.Len(t, a.PromptParts, 2)
	require.Equal(t, PartInstruction, a.PromptParts[0].Kind)
	require.Equal(t, PartAssistant, a.PromptParts[1].Kind)
}

func TestParsePartLocalMetaCache(t *testing.T) {
	src := "# System\n\n" +
		"```#!meta\ncache = true\n```\n\n" +
		"Cached system prompt.\n"
	a, err := Parse(src, "meta", "meta.aip")
	require.NoError(t, err)
	require.Len(t, a.PromptParts, 1)
	require.True(t, a.PromptParts[0].Options.Cache)
	require.Contains(t, a.PromptParts[0].Template, "Cached system prompt")
	require.NotContains(t, a.PromptParts[0].Template, "cache = true")
}

func TestParseFourBacktickFence(t *testing.T) {
	src := "# Data\n\n````lua\nreturn { x = 1 }\n````\n"
	a, err := Parse(src, "fourbt", "fourbt.aip")
	require.NoError(t, err)
	require.Contains(t, a.Data, "x = 1")
}

func TestEffectiveInputConcurrencyDefault(t *testing.T) {
	var o Options
	require.Equal(t, DefaultInputConcurrency, o.EffectiveInputConcurrency())
	o.InputConcurrency = 8
	require.Equal(t, 8, o.EffectiveInputConcurrency())
}

func TestParseEmptyOptionalSections(t *testing.T) {
	src := "# Instruction\n\nJust an instruction.\n"
	a, err := Parse(src, "minimal", "minimal.aip")
	require.NoError(t, err)
	require.Empty(t, a.BeforeAll)
	require.Empty(t, a.Data)
	require.Empty(t, a.Output)
	require.Empty(t, a.AfterAll)
	require.Len(t, a.PromptParts, 1)
}
