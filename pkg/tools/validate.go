package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
)

// Validate checks args against an object schema: args must be a JSON
// object, every required key present, no unknown keys when the schema
// forbids them, and primitive types must match.
func Validate(schema *jsonschema.Schema, args json.RawMessage) error {
	if schema == nil {
		return nil
	}
	obj := map[string]json.RawMessage{}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &obj); err != nil {
			return fmt.Errorf("%w: arguments must be a JSON object", ErrInvalidArgs)
		}
	}
	for _, key := range schema.Required {
		if _, ok := obj[key]; !ok {
			return fmt.Errorf("%w: missing required %q", ErrInvalidArgs, key)
		}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var prop *jsonschema.Schema
		if schema.Properties != nil {
			prop, _ = schema.Properties.Get(k)
		}
		if prop == nil {
			if schema.AdditionalProperties == jsonschema.FalseSchema {
				return fmt.Errorf("%w: unknown key %q", ErrInvalidArgs, k)
			}
			continue
		}
		if !typeMatches(prop.Type, obj[k]) {
			return fmt.Errorf("%w: %q must be %s", ErrInvalidArgs, k, prop.Type)
		}
	}
	return nil
}

func typeMatches(want string, raw json.RawMessage) bool {
	if want == "" || len(raw) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}
