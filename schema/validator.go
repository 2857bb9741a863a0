// Package schema validates JSON documents against a compiled JSON Schema.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Violation is a single schema failure located in the document.
type Violation struct {
	// Field is the dotted path of the offending value, "" for the document root.
	Field   string
	Message string
}

// Error is returned by Validate when the document does not conform.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		field := v.Field
		if field == "" {
			field = "(root)"
		}
		msgs = append(msgs, fmt.Sprintf("- %s: %s", field, v.Message))
	}
	return fmt.Sprintf("schema validation failed:\n%s", strings.Join(msgs, "\n"))
}

// First returns the first violation.
func (e *Error) First() Violation {
	if len(e.Violations) == 0 {
		return Violation{}
	}
	return e.Violations[0]
}

// Validator validates configuration against a compiled JSON Schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles schemaData under the given resource name.
func NewValidator(name string, schemaData []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schemaData)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate validates configuration data against the schema.
// It accepts any value that can be marshaled to JSON.
func (v *Validator) Validate(data interface{}) error {
	// The schema expects plain JSON-like values, not Go structs.
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document for validation: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal document for validation: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			out := &Error{}
			collectViolations(validationErr, out)
			if len(out.Violations) == 0 {
				out.Violations = append(out.Violations, Violation{Message: validationErr.Message})
			}
			return out
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// collectViolations recursively collects the leaf validation errors.
func collectViolations(err *jsonschema.ValidationError, out *Error) {
	if len(err.Causes) == 0 {
		out.Violations = append(out.Violations, Violation{
			Field:   pointerToField(err.InstanceLocation),
			Message: err.Message,
		})
		return
	}
	for _, cause := range err.Causes {
		collectViolations(cause, out)
	}
}

// pointerToField turns "/preprocessing/quality" into "preprocessing.quality".
func pointerToField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	parts := strings.Split(pointer, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}
