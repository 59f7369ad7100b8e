package agentparser

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// optionsSchemaJSON constrains the decoded Options record: temperature
// and top_p, when present, must fall within the ranges the AI Client
// adapters accept, and input_concurrency must not be negative. Grounded
// on the goadesign-goa-ai registry service's validatePayloadJSONAgainstSchema
// compile-then-validate pattern.
const optionsSchemaJSON = `{
  "type": "object",
  "properties": {
    "model": {"type": "string"},
    "input_concurrency": {"type": "integer", "minimum": 0},
    "temperature": {"type": ["number", "null"], "minimum": 0, "maximum": 2},
    "top_p": {"type": ["number", "null"], "minimum": 0, "maximum": 1},
    "model_aliases": {"type": ["object", "null"]}
  }
}`

var compiledOptionsSchema *jsonschema.Schema

func init() {
	var schemaDoc any
	if err := json.Unmarshal([]byte(optionsSchemaJSON), &schemaDoc); err != nil {
		panic(fmt.Errorf("agentparser: unmarshal built-in options schema: %w", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("options.json", schemaDoc); err != nil {
		panic(fmt.Errorf("agentparser: add options schema resource: %w", err))
	}
	s, err := c.Compile("options.json")
	if err != nil {
		panic(fmt.Errorf("agentparser: compile options schema: %w", err))
	}
	compiledOptionsSchema = s
}

// ValidateOptions checks a decoded Options record against the built-in
// JSON Schema for agent options. The agent loader runs it on each loaded
// agent's Options after merging the workspace/base config layers under
// them, not on each layer individually; a Lua-override layer applied
// later by the engine is not re-validated.
func ValidateOptions(o Options) error {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("agentparser: marshal options: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("agentparser: unmarshal options: %w", err)
	}
	if err := compiledOptionsSchema.Validate(doc); err != nil {
		return fmt.Errorf("agentparser: options failed validation: %w", err)
	}
	return nil
}
