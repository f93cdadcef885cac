// Package schema validates workflow inputs against JSON Schemas.
// Workflow definitions carry their input schema as an inline map; the
// gateway validates every submission against it before anything is
// queued, so malformed inputs fail fast with a 400 instead of deep
// inside a running step.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateBytes compiles a raw JSON Schema and validates value against it.
func ValidateBytes(id string, schema []byte, value any) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema is empty")
	}
	compiled, err := compile(id, schema)
	if err != nil {
		return err
	}
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// ValidateMap validates value against an inline schema map, the form
// workflow definitions declare their input schemas in.
func ValidateMap(schema map[string]any, value any) error {
	data, err := marshalSchema(schema)
	if err != nil {
		return err
	}
	return ValidateBytes("inline", data, value)
}

func compile(id string, schema []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	resource := resourceID(id)
	if err := compiler.AddResource(resource, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func marshalSchema(schema map[string]any) ([]byte, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// normalizeValue turns raw JSON forms into the any-typed value the
// validator expects; decoded values pass through unchanged.
func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	case []byte:
		var out any
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return out, nil
	default:
		return value, nil
	}
}

func resourceID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
