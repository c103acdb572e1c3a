package config

import (
	"github.com/invopop/jsonschema"
)

// Schema describes the configuration file.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	s := r.Reflect(&Config{})
	s.ID = "https://github.com/casualjim/mqtt4w/config.schema.json"
	s.Title = "mqtt4w configuration"
	return s
}
