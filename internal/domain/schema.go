package domain

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

// Schema is a compiled JSON Schema used to validate step inputs and outputs.
// A nil *Schema accepts any value.
type Schema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document. An empty document yields a
// nil Schema, which accepts everything.
func CompileSchema(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{raw: raw, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema that panics on error. Intended for
// statically-declared schemas in workflow definitions.
func MustCompileSchema(raw string) *Schema {
	s, err := CompileSchema(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks value against the schema. Returns ErrValidation (wrapped
// with the validator's detail) on mismatch.
func (s *Schema) Validate(value any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	result := s.compiled.Validate(value)
	if !result.IsValid() {
		return fmt.Errorf("%w: %s", ErrValidation, result.Error())
	}
	return nil
}

// Raw returns the original schema document.
func (s *Schema) Raw() json.RawMessage {
	if s == nil {
		return nil
	}
	return s.raw
}
