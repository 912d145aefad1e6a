package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaData []byte

// ValidationError is the most specific schema violation in a document.
type ValidationError struct {
	Message string
	Path    string
	// Line is 1-based, or 0 when the format carries no positions.
	Line int
	File string
}

func (e *ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	default:
		return e.Message
	}
}

// Validator checks documents against the embedded configuration schema.
type Validator struct {
	mu     sync.RWMutex
	schema *gojsonschema.Schema
}

// NewValidator returns a validator; the schema is compiled on first use.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) compiled() (*gojsonschema.Schema, error) {
	v.mu.RLock()
	if v.schema != nil {
		defer v.mu.RUnlock()
		return v.schema, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.schema != nil {
		return v.schema, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaData))
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	v.schema = schema
	return schema, nil
}

// errorPriority orders violations from most to least specific.
var errorPriority = map[string]int{
	"additional_property_not_allowed": 1,
	"required":                        2,
	"invalid_type":                    3,
	"enum":                            4,
	"pattern":                         5,
	"string_gte":                      6,
	"array_min_items":                 7,
}

// Validate returns nil when doc is valid. The error return is reserved for
// failures to run the validation itself.
func (v *Validator) Validate(doc *Document) (*ValidationError, error) {
	schema, err := v.compiled()
	if err != nil {
		return nil, err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc.JSONBytes))
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if result.Valid() || len(result.Errors()) == 0 {
		return nil, nil
	}

	best := result.Errors()[0]
	highest := 999
	for _, e := range result.Errors() {
		if priority, ok := errorPriority[e.Type()]; ok && priority < highest {
			best = e
			highest = priority
		}
	}

	path := best.Field()
	if best.Type() == "additional_property_not_allowed" {
		if property := extractPropertyFromDescription(best.Description()); property != "" {
			path = joinField(path, property)
		}
	}

	return &ValidationError{
		Message: friendlyErrorMessage(best),
		Path:    path,
		Line:    doc.Line(path),
	}, nil
}

func friendlyErrorMessage(err gojsonschema.ResultError) string {
	switch err.Type() {
	case "additional_property_not_allowed":
		if property := extractPropertyFromDescription(err.Description()); property != "" {
			return fmt.Sprintf("Unknown property '%s' is not allowed", property)
		}
		return err.Description()
	case "required":
		return fmt.Sprintf("Missing required property '%s'", err.Field())
	case "invalid_type":
		return fmt.Sprintf("Property '%s' has wrong type (expected %s)", err.Field(), err.Details()["expected"])
	case "enum":
		return fmt.Sprintf("Property '%s' must be one of: %v", err.Field(), err.Details()["allowed"])
	case "pattern":
		return fmt.Sprintf("Property '%s' is not a valid duration (for example 500ms, 30s or 2m)", err.Field())
	case "string_gte":
		return fmt.Sprintf("Property '%s' must not be empty", err.Field())
	case "array_min_items":
		return fmt.Sprintf("Array '%s' needs at least %v items", err.Field(), err.Details()["min"])
	default:
		return err.Description()
	}
}

func joinField(parent, child string) string {
	if parent == "" || parent == "(root)" {
		return child
	}
	return parent + "." + child
}

// extractPropertyFromDescription pulls the name out of
// "Additional property foo is not allowed".
func extractPropertyFromDescription(description string) string {
	const prefix, suffix = "Additional property ", " is not allowed"
	start := strings.Index(description, prefix)
	end := strings.Index(description, suffix)
	if start < 0 || end < 0 {
		return ""
	}
	start += len(prefix)
	if start >= end {
		return ""
	}
	return description[start:end]
}
