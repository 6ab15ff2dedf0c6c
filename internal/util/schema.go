package util

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Enumer is implemented by string-like types restricted to a fixed value set.
type Enumer interface {
	EnumValues() []string
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	rawJSONType = reflect.TypeOf(json.RawMessage{})
	enumerType  = reflect.TypeOf((*Enumer)(nil)).Elem()
)

// SchemaFor derives a JSON schema from a Go type using reflection.
//
// Struct fields honour the json tag for naming and omitempty, plus the
// description, enum ("a,b,c") and default tags. A field is required unless it
// is a pointer, omitempty, or has a default. Recursive types are cut with a
// plain {"type":"object"} placeholder at the point of recursion.
func SchemaFor(t reflect.Type) map[string]any {
	b := &schemaBuilder{visiting: map[reflect.Type]bool{}}
	return b.build(t)
}

// SchemaOf is SchemaFor for the dynamic type of v.
func SchemaOf(v any) map[string]any {
	return SchemaFor(reflect.TypeOf(v))
}

type schemaBuilder struct {
	visiting map[reflect.Type]bool
}

func (b *schemaBuilder) build(t reflect.Type) map[string]any {
	if t == nil {
		return map[string]any{}
	}

	if t.Kind() == reflect.Ptr {
		return b.build(t.Elem())
	}

	switch t {
	case timeType:
		return map[string]any{"type": "string", "format": "date-time"}
	case rawJSONType:
		return map[string]any{}
	}

	if values, ok := enumValues(t); ok {
		return map[string]any{"type": "string", "enum": values}
	}

	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return map[string]any{"type": "string"} // []byte encodes as base64
		}
		return map[string]any{"type": "array", "items": b.build(t.Elem())}
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return map[string]any{"type": "object"}
		}
		return map[string]any{"type": "object", "additionalProperties": b.build(t.Elem())}
	case reflect.Struct:
		return b.buildStruct(t)
	default:
		return map[string]any{}
	}
}

func (b *schemaBuilder) buildStruct(t reflect.Type) map[string]any {
	if b.visiting[t] {
		return map[string]any{"type": "object"}
	}
	b.visiting[t] = true
	defer delete(b.visiting, t)

	properties := make(map[string]any)
	required := make([]string, 0)

	b.collectFields(t, properties, &required)

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func (b *schemaBuilder) collectFields(t reflect.Type, properties map[string]any, required *[]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name, omitEmpty := parseJSONTag(jsonTag)

		// embedded structs without an explicit name are flattened like encoding/json does
		if field.Anonymous && name == "" {
			ft := field.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				b.collectFields(ft, properties, required)
				continue
			}
		}

		if !field.IsExported() {
			continue
		}

		if name == "" {
			name = field.Name
		}

		fieldSchema := b.build(field.Type)

		if description := field.Tag.Get("description"); description != "" {
			fieldSchema["description"] = description
		}

		if enum := field.Tag.Get("enum"); enum != "" {
			values := strings.Split(enum, ",")
			for i := range values {
				values[i] = strings.TrimSpace(values[i])
			}
			fieldSchema["enum"] = values
			if _, ok := fieldSchema["type"]; !ok {
				fieldSchema["type"] = "string"
			}
		}

		def, hasDefault := field.Tag.Lookup("default")
		if hasDefault {
			fieldSchema["default"] = parseDefault(def)
		}

		properties[name] = fieldSchema

		if !omitEmpty && !hasDefault && field.Type.Kind() != reflect.Ptr {
			*required = append(*required, name)
		}
	}
}

func enumValues(t reflect.Type) ([]string, bool) {
	switch {
	case t.Implements(enumerType):
		return reflect.Zero(t).Interface().(Enumer).EnumValues(), true
	case reflect.PointerTo(t).Implements(enumerType):
		return reflect.New(t).Interface().(Enumer).EnumValues(), true
	}
	return nil, false
}

// parseJSONTag splits a json struct tag into its name and omitempty option.
func parseJSONTag(tag string) (string, bool) {
	if tag == "" {
		return "", false
	}
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" || strings.TrimSpace(part) == "omitzero" {
			return parts[0], true
		}
	}
	return parts[0], false
}

// parseDefault decodes a default tag as JSON, falling back to the raw string.
func parseDefault(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// MatchesType checks if a decoded JSON value is valid for a JSON schema type.
func MatchesType(value any, expectedType string) bool {
	if value == nil {
		return false
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON unmarshaling produces float64 for numbers
			return v == float64(int64(v))
		case json.Number:
			_, err := v.Int64()
			return err == nil
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true // unknown or absent types accept anything
	}
}

// SchemaType returns the "type" keyword of a schema, or "" when absent.
func SchemaType(schema map[string]any) string {
	if schema == nil {
		return ""
	}
	s, _ := schema["type"].(string)
	return s
}
