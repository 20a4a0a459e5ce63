// Package schemas provides JSON Schema validation for partner payloads.
package schemas

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// PartnerRunPageSchema describes the shape of one page of the partner run
// feed: a `runs` array (possibly null) and an optional opaque `next_cursor`.
// Individual run records are deliberately loose; record-level problems are
// the mapper's job so that one bad record never rejects a whole page.
const PartnerRunPageSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "PartnerRunPage",
  "type": "object",
  "properties": {
    "runs": {
      "type": ["array", "null"],
      "items": { "type": "object" }
    },
    "next_cursor": {
      "type": ["string", "number", "null"]
    }
  },
  "additionalProperties": true
}`

// ValidationError represents a schema validation failure with field paths.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// ValidatePartnerPage validates a raw partner page body against
// PartnerRunPageSchema. A non-JSON body or a page violating the schema
// returns an error; callers treat both as non-retryable.
func ValidatePartnerPage(body []byte) error {
	return validateString(PartnerRunPageSchema, string(body))
}

func validateString(schemaContent, jsonContent string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaContent)
	documentLoader := gojsonschema.NewStringLoader(jsonContent)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate document: %w", err)
	}

	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
