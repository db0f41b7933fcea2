// Package executor drives one sub-agent's turn loop to completion,
// enforcing the submit-result contract and translating model/tool
// events into Progress Record mutations (§4.D).
package executor

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/theerud/taskcore/internal/core"
)

// compiledSchema validates submit_result arguments against an agent's
// declared output schema.
type compiledSchema struct {
	schema *jsonschema.Schema
}

const outputSchemaResourceURI = "taskcore://output-schema"

func compileSchema(schema *core.JSONSchema) (*compiledSchema, error) {
	if schema == nil {
		return nil, nil
	}

	raw, err := json.Marshal(map[string]any(*schema))
	if err != nil {
		return nil, fmt.Errorf("marshaling output schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding output schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(outputSchemaResourceURI, doc); err != nil {
		return nil, fmt.Errorf("adding output schema resource: %w", err)
	}
	compiled, err := compiler.Compile(outputSchemaResourceURI)
	if err != nil {
		return nil, fmt.Errorf("compiling output schema: %w", err)
	}
	return &compiledSchema{schema: compiled}, nil
}

// validate reports the schema-rejection error text the submit-result
// state machine feeds back to the model as a retry prompt, or "" if the
// arguments satisfy the schema.
func (c *compiledSchema) validate(args map[string]any) string {
	if c == nil {
		return ""
	}
	if err := c.schema.Validate(args); err != nil {
		return err.Error()
	}
	return ""
}
