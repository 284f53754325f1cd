package config

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	configSchema = mustSchema("schema/config.schema.json")
	policySchema = mustSchema("schema/policy.schema.json")
)

func mustSchema(name string) *gojsonschema.Schema {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Sprintf("compiling %s: %v", name, err))
	}
	return s
}

// validateDocument checks YAML data against schema before it is decoded
// into a typed structure.
func validateDocument(schema *gojsonschema.Schema, kind string, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", kind, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return &ConfigError{Message: kind + " must be a mapping", Err: ErrInvalidConfigType}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate %s: %w", kind, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return &ConfigError{Field: result.Errors()[0].Field(), Message: strings.Join(msgs, "; "), Err: schemaErr(result.Errors()[0])}
}

func schemaErr(e gojsonschema.ResultError) error {
	switch e.Type() {
	case "required":
		return ErrMissingRequiredField
	case "additional_property_not_allowed":
		return ErrUnexpectedField
	}
	return ErrConfigurationError
}
