package tool

import (
	"maps"
	"reflect"

	"github.com/hupe1980/toolmesh/internal/util"
)

// Param declares one positional parameter of a tool.
//
// Schema is the JSON schema fragment shown to models. When Type is set,
// arguments are decoded into a fresh value of that type; otherwise they are
// checked against the schema "type" keyword and passed as decoded JSON.
type Param struct {
	Name        string
	Description string
	Schema      map[string]any
	Type        reflect.Type
	Default     any
	HasDefault  bool
	Nullable    bool
}

// String declares a string parameter.
func String(name, description string) Param {
	return Param{Name: name, Description: description, Schema: map[string]any{"type": "string"}, Type: reflect.TypeOf("")}
}

// Integer declares an integer parameter bound as int.
func Integer(name, description string) Param {
	return Param{Name: name, Description: description, Schema: map[string]any{"type": "integer"}, Type: reflect.TypeOf(0)}
}

// Number declares a numeric parameter bound as float64.
func Number(name, description string) Param {
	return Param{Name: name, Description: description, Schema: map[string]any{"type": "number"}, Type: reflect.TypeOf(float64(0))}
}

// Boolean declares a boolean parameter.
func Boolean(name, description string) Param {
	return Param{Name: name, Description: description, Schema: map[string]any{"type": "boolean"}, Type: reflect.TypeOf(false)}
}

// Array declares an array parameter bound as []any. items may be nil.
func Array(name, description string, items map[string]any) Param {
	schema := map[string]any{"type": "array"}
	if items != nil {
		schema["items"] = items
	}
	return Param{Name: name, Description: description, Schema: schema}
}

// Object declares an object parameter bound as map[string]any.
func Object(name, description string, schema map[string]any) Param {
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return Param{Name: name, Description: description, Schema: schema}
}

// Enum declares a string parameter restricted to values.
func Enum(name, description string, values ...string) Param {
	return Param{
		Name:        name,
		Description: description,
		Schema:      map[string]any{"type": "string", "enum": values},
		Type:        reflect.TypeOf(""),
	}
}

// StructParam declares a parameter bound to a value of T with a schema derived from T.
func StructParam[T any](name, description string) Param {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return Param{Name: name, Description: description, Schema: util.SchemaFor(t), Type: t}
}

// WithDefault returns a copy of p that falls back to v when the argument is absent.
func (p Param) WithDefault(v any) Param {
	p.Default = v
	p.HasDefault = true
	return p
}

// AsNullable returns a copy of p that binds nil when the argument is absent.
func (p Param) AsNullable() Param {
	p.Nullable = true
	return p
}

// Required reports whether the argument must be supplied.
func (p Param) Required() bool { return !p.HasDefault && !p.Nullable }

// JSONSchema returns the schema fragment with description and default applied.
func (p Param) JSONSchema() map[string]any {
	s := make(map[string]any, len(p.Schema)+2)
	maps.Copy(s, p.Schema)
	if p.Description != "" {
		if _, ok := s["description"]; !ok {
			s["description"] = p.Description
		}
	}
	if p.HasDefault {
		s["default"] = p.Default
	}
	return s
}

// primitive reports whether the param binds a JSON scalar.
func (p Param) primitive() bool {
	switch util.SchemaType(p.Schema) {
	case "string", "integer", "number", "boolean":
		return true
	}
	return false
}

// SchemaFor builds the object schema describing params.
func SchemaFor(params []Param) map[string]any {
	properties := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		properties[p.Name] = p.JSONSchema()
		if p.Required() {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
