// Package schema reflects JSON Schema documents from Go types. The admin
// request models and the config file share one reflector so both render
// the same way.
package schema

import (
	"encoding/json"
	"fmt"
	"path"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Reflect builds the schema of v with every struct expanded inline.
func Reflect(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
		Namer:          qualifiedName,
	}
	return reflector.Reflect(v)
}

// qualifiedName keys definitions by package and type so that two types
// named alike (config.Config, logging.Config) do not overwrite each other.
func qualifiedName(t reflect.Type) string {
	if t.Name() == "" || t.PkgPath() == "" {
		return ""
	}
	return path.Base(t.PkgPath()) + "." + t.Name()
}

// Generate returns the compact schema of v.
func Generate(v any) (json.RawMessage, error) {
	data, err := json.Marshal(Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// GenerateSchema returns the indented schema of v, for printing.
func GenerateSchema(v any) ([]byte, error) {
	data, err := json.MarshalIndent(Reflect(v), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
