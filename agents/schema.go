package agents

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	errorskg "github.com/sweetpotato0/regulatory-rag/errors"
)

const agentResultSchemaURL = "agent_result.schema.json"

const agentResultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["agent_name", "answer", "citations", "confidence", "warnings"],
  "properties": {
    "agent_name": {"type": "string", "minLength": 1},
    "answer": {"type": "string"},
    "citations": {
      "type": "array",
      "items": {
        "oneOf": [
          {"type": "string"},
          {
            "type": "object",
            "required": ["source_reference"],
            "properties": {
              "chunk_id": {"type": "string"},
              "source_reference": {"type": "string"},
              "source_regulation": {"type": "string"},
              "similarity_score": {"type": "number", "minimum": 0, "maximum": 1}
            }
          }
        ]
      }
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "warnings": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(agentResultSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse agent result schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(agentResultSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add agent result schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(agentResultSchemaURL)
	})
	return schema, schemaErr
}

// ValidateDocument checks an untyped JSON document against the AgentResult
// schema: an object with all five keys, the right JSON types and a
// confidence in [0, 1].
func ValidateDocument(raw []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errorskg.ErrContractViolation, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", errorskg.ErrContractViolation, err)
	}
	return nil
}
