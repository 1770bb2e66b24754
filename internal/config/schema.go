package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

var schemaDoc = sync.OnceValues(func() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		ExpandedStruct: true,
		DoNotReference: true,
	}
	s := r.Reflect(&Config{})
	s.Title = "chatlink configuration"
	s.Description = fmt.Sprintf("Config file format version %d. Durations are nanoseconds or Go duration strings.", CurrentVersion)
	return json.MarshalIndent(s, "", "  ")
})

// JSONSchema returns the JSON Schema of the config file, with nested
// sections inlined so editors can complete them without $ref support.
func JSONSchema() ([]byte, error) { return schemaDoc() }
