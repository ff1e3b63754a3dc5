package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the published config schema.
const SchemaID = "https://github.com/hulunote/hulunote/config.schema.json"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema returns the JSON Schema for the config file. Field names follow
// the yaml tags so the schema validates YAML and JSON5 files alike.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			RequiredFromJSONSchemaTags: true,
		}
		schema := r.Reflect(&Config{})
		schema.ID = SchemaID
		schema.Title = "hulunote configuration"
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}
