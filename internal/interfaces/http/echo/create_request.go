package echo

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const createSessionSchemaURL = "mem://schemas/create-session.json"

const createSessionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["fileName", "rows"],
  "properties": {
    "fileName": {"type": "string", "minLength": 1},
    "rows": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "object", "additionalProperties": {"type": "string"}}
    },
    "fieldMappings": {"type": "object", "additionalProperties": {"type": "string"}},
    "enrichmentConfigIds": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

type createSessionRequest struct {
	FileName            string              `json:"fileName"`
	Rows                []map[string]string `json:"rows"`
	FieldMappings       map[string]string   `json:"fieldMappings"`
	EnrichmentConfigIDs []string            `json:"enrichmentConfigIds"`
}

type requestValidator struct {
	schema *jsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(createSessionSchema))
	if err != nil {
		return nil, fmt.Errorf("parse create session schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(createSessionSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add create session schema: %w", err)
	}
	schema, err := compiler.Compile(createSessionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile create session schema: %w", err)
	}
	return &requestValidator{schema: schema}, nil
}

func (v *requestValidator) validate(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return v.schema.Validate(inst)
}

// parseMappings reads repeated "column:target" values.
func parseMappings(values []string) (map[string]string, error) {
	mappings := make(map[string]string, len(values))
	for _, v := range values {
		column, target, ok := strings.Cut(v, ":")
		if !ok || strings.TrimSpace(column) == "" {
			return nil, fmt.Errorf("mapping %q must be column:target", v)
		}
		mappings[strings.TrimSpace(column)] = strings.TrimSpace(target)
	}
	return mappings, nil
}
