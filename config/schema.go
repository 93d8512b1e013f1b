package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/wippyai/wasm-embed/errors"
)

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
		AllowAdditionalProperties: false,
	}
	s := reflector.Reflect(&fileConfig{})
	s.Title = "wasmembed configuration"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "marshal schema")
	}
	return data, nil
}
