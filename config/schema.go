package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/grovetools/slidesync/schema"
)

//go:generate go run ../tools/schema-generator -out ../schema/definitions/config.schema.json

const schemaID = "https://grovetools.dev/schema/slidesync.config.json"

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// GenerateSchema reflects the JSON Schema of the configuration document.
// The schema is structural only; ranges are enforced by Validate.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		// Unknown keys are preserved in the document, not rejected.
		AllowAdditionalProperties: true,
		// Files are partial; defaults fill the gaps before validation.
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	s := r.Reflect(&Config{})
	s.ID = schemaID
	s.Title = "slidesync configuration"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

func structuralValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			validatorErr = err
			return
		}
		validator, validatorErr = schema.NewValidator(schemaID, data)
	})
	return validator, validatorErr
}
