package contract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema describes the shape of a JSON payload. Payloads are the generic
// decoded form: map[string]any, []any, string, float64, bool.
type Schema = jsonschema.Schema

// Text accepts any string.
func Text() *Schema { return &Schema{Type: "string"} }

// NonEmpty accepts a string holding at least one non-space character.
func NonEmpty() *Schema { return &Schema{Type: "string", Pattern: `\S`} }

// OneOf accepts one of the given strings.
func OneOf(values ...string) *Schema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &Schema{Type: "string", Enum: enum}
}

// Integer accepts a whole number.
func Integer() *Schema { return &Schema{Type: "integer"} }

// Number accepts any number.
func Number() *Schema { return &Schema{Type: "number"} }

// Bool accepts true or false.
func Bool() *Schema { return &Schema{Type: "boolean"} }

// ListOf accepts an array whose items all match item.
func ListOf(item *Schema) *Schema { return &Schema{Type: "array", Items: item} }

// NonEmptyListOf is ListOf with at least one item.
func NonEmptyListOf(item *Schema) *Schema {
	return &Schema{Type: "array", Items: item, MinItems: jsonschema.Ptr(1)}
}

// Object accepts an object with the given properties. Names listed in
// required must be present. Unknown members are allowed.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

// ViolationError names the first field that does not satisfy a schema.
type ViolationError struct {
	Field  string
	Reason string
}

func (e *ViolationError) Error() string {
	if e.Field == "" {
		return "contract violation: " + e.Reason
	}
	return fmt.Sprintf("contract violation at %s: %s", e.Field, e.Reason)
}

var resolved sync.Map // *Schema -> *jsonschema.Resolved

// compile resolves s once. Schemas must not change after first use.
func compile(s *Schema) (*jsonschema.Resolved, error) {
	if rs, ok := resolved.Load(s); ok {
		return rs.(*jsonschema.Resolved), nil
	}
	rs, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	actual, _ := resolved.LoadOrStore(s, rs)
	return actual.(*jsonschema.Resolved), nil
}

// Validate checks payload against schema and returns a *ViolationError for
// the first mismatch, or nil. A nil schema accepts anything. Members whose
// value is null count as absent.
func Validate(schema *Schema, payload any) error {
	if schema == nil {
		return nil
	}
	payload = dropNulls(payload)
	rs, err := compile(schema)
	if err != nil {
		return &ViolationError{Reason: err.Error()}
	}
	if err := rs.Validate(payload); err == nil {
		return nil
	}
	return locate(schema, payload, "")
}

// locate descends into the properties and items of a failing value to name
// the deepest field that still fails on its own.
func locate(s *Schema, v any, field string) *ViolationError {
	rs, err := compile(s)
	if err != nil {
		return &ViolationError{Field: field, Reason: err.Error()}
	}
	verr := rs.Validate(v)
	if verr == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		if s.Type != "object" {
			break
		}
		for _, name := range s.Required {
			if _, ok := val[name]; !ok {
				return &ViolationError{Field: join(field, name), Reason: "is required"}
			}
		}
		// Sorted so the reported field is stable across runs.
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child, ok := val[name]
			if !ok {
				continue
			}
			if ve := locate(s.Properties[name], child, join(field, name)); ve != nil {
				return ve
			}
		}
	case []any:
		if s.Type != "array" || s.Items == nil {
			break
		}
		for i, item := range val {
			if ve := locate(s.Items, item, fmt.Sprintf("%s[%d]", field, i)); ve != nil {
				return ve
			}
		}
	}
	return &ViolationError{Field: field, Reason: reason(verr)}
}

// reason turns the innermost validator message into a short phrase.
func reason(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	msg := err.Error()
	keyword, _, _ := strings.Cut(msg, ":")
	switch keyword {
	case "pattern", "minLength", "minItems":
		return "must not be empty"
	case "required":
		return "is required"
	}
	return msg
}

func dropNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			out[k] = dropNulls(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = dropNulls(item)
		}
		return out
	}
	return v
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
