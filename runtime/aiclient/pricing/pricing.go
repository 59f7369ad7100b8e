// Package pricing implements the AI Client's deterministic (adapter,
// model, tokens) -> price_usd lookup (spec §4.7: "missing pricing yields
// a None price rather than an error").
package pricing

import "github.com/aipack-run/aipack/runtime/aiclient"

// rate holds USD-per-million-token prices for one model.
type rate struct {
	inputPerMillion  float64
	outputPerMillion float64
}

// catalog is a static, process-local price table. Rates are illustrative
// published list prices at time of writing, not a live pricing feed —
// the Non-goals explicitly exclude a durable/external pricing service.
var catalog = map[string]map[string]rate{
	"anthropic": {
		"claude-3-opus":       {inputPerMillion: 15.0, outputPerMillion: 75.0},
		"claude-3-5-sonnet":   {inputPerMillion: 3.0, outputPerMillion: 15.0},
		"claude-3-haiku":      {inputPerMillion: 0.25, outputPerMillion: 1.25},
	},
	"openai": {
		"gpt-4o":      {inputPerMillion: 2.5, outputPerMillion: 10.0},
		"gpt-4o-mini": {inputPerMillion: 0.15, outputPerMillion: 0.6},
	},
	"bedrock": {
		"anthropic.claude-3-sonnet": {inputPerMillion: 3.0, outputPerMillion: 15.0},
	},
}

// Lookup returns the USD price for a completed call, or nil if the
// (adapter, model) pair is not in the catalog.
func Lookup(adapterKind, model string, usage aiclient.Usage) *float64 {
	models, ok := catalog[adapterKind]
	if !ok {
		return nil
	}
	r, ok := models[model]
	if !ok {
		return nil
	}
	price := float64(usage.InputTokens)/1_000_000*r.inputPerMillion +
		float64(usage.OutputTokens)/1_000_000*r.outputPerMillion
	return &price
}
