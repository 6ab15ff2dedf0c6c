package tool

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// compiled schemas keyed by their JSON encoding
var schemaCache sync.Map

func compiledSchema(schema map[string]any) (*gojsonschema.Schema, error) {
	key, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	if s, ok := schemaCache.Load(string(key)); ok {
		return s.(*gojsonschema.Schema), nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(key))
	if err != nil {
		return nil, err
	}
	actual, _ := schemaCache.LoadOrStore(string(key), s)
	return actual.(*gojsonschema.Schema), nil
}

// conform prepares a structured argument for decoding. It renames keys that
// differ from the declared properties only by case, drops null optional
// fields, fills absent fields that declare a default and validates the result
// against p's schema. Scalar params pass through untouched.
func conform(tool string, p Param, raw json.RawMessage) (json.RawMessage, []*ValidationError) {
	if p.primitive() || len(p.Schema) == 0 {
		return raw, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return raw, nil // reported by decodeParam
	}

	filled, err := json.Marshal(applyDefaults(p.Schema, doc))
	if err != nil {
		return raw, nil
	}

	schema, err := compiledSchema(p.Schema)
	if err != nil {
		return filled, nil
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(filled))
	if err != nil || res.Valid() {
		return filled, nil
	}

	issues := make([]*ValidationError, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		issues = append(issues, resultError(tool, p, re))
	}
	return filled, issues
}

func resultError(tool string, p Param, re gojsonschema.ResultError) *ValidationError {
	path := fieldPath(re.Field())
	ve := &ValidationError{Tool: tool}

	if re.Type() == "required" {
		if prop, ok := re.Details()["property"].(string); ok {
			path = append(path, prop)
		}
		ve.Message = "missing required parameter"
	} else {
		ve.Message = re.Description()
		if b, err := json.Marshal(re.Value()); err == nil {
			ve.Value = rawValue(b)
		}
	}

	ve.Param = strings.Join(append([]string{p.Name}, path...), ".")
	ve.Description = describe(p, path)
	return ve
}

func fieldPath(field string) []string {
	if field == "" || field == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
		return nil
	}
	return strings.Split(field, ".")
}

// describe returns the description of the property at path, falling back to
// the param's own description.
func describe(p Param, path []string) string {
	schema := p.Schema
	for _, seg := range path {
		if _, err := strconv.Atoi(seg); err == nil {
			items, _ := schema["items"].(map[string]any)
			schema = items
			continue
		}
		props, _ := schema["properties"].(map[string]any)
		sub, _ := props[seg].(map[string]any)
		schema = sub
	}
	if d, ok := schema["description"].(string); ok && d != "" {
		return d
	}
	return p.Description
}

func applyDefaults(schema map[string]any, doc any) any {
	switch v := doc.(type) {
	case []any:
		if items, ok := schema["items"].(map[string]any); ok {
			for i := range v {
				v[i] = applyDefaults(items, v[i])
			}
		}
		return v
	case map[string]any:
		props, _ := schema["properties"].(map[string]any)
		required := requiredSet(schema)
		for name, ps := range props {
			sub, _ := ps.(map[string]any)
			val, present := v[name]
			if !present {
				val, present = renameFold(v, name)
			}
			def, hasDefault := sub["default"]

			switch {
			case present && val == nil && !required[name]:
				delete(v, name)
				if hasDefault {
					v[name] = def
				}
			case !present && hasDefault:
				v[name] = def
			case present && sub != nil:
				v[name] = applyDefaults(sub, val)
			}
		}
		return v
	default:
		return doc
	}
}

// renameFold moves a key matching name case-insensitively to name.
func renameFold(obj map[string]any, name string) (any, bool) {
	for k, val := range obj {
		if strings.EqualFold(k, name) {
			delete(obj, k)
			obj[name] = val
			return val, true
		}
	}
	return nil, false
}

func requiredSet(schema map[string]any) map[string]bool {
	set := map[string]bool{}
	switch r := schema["required"].(type) {
	case []string:
		for _, n := range r {
			set[n] = true
		}
	case []any:
		for _, n := range r {
			if s, ok := n.(string); ok {
				set[s] = true
			}
		}
	}
	return set
}
