package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/hupe1980/toolmesh/internal/util"
)

var nullJSON = []byte("null")

// Bind maps model supplied JSON arguments onto t's declared parameters and
// returns the positional values.
//
// A tool with a single non-primitive parameter receives the whole argument
// object when the model did not nest it under the parameter name. Absent
// arguments fall back to the default, then to nil for nullable parameters.
// Object arguments get the same treatment field by field from the param's
// schema before they are decoded. Every failure is collected into one
// *ValidationErrors.
func Bind(t Tool, raw json.RawMessage) ([]any, error) {
	params := t.Params()
	verr := &ValidationErrors{Tool: t.Name()}
	raw = NormalizeArguments(raw)

	obj, err := decodeObject(raw)
	if err != nil {
		verr.add(&ValidationError{
			Tool:    t.Name(),
			Param:   "arguments",
			Value:   rawValue(raw),
			Message: "arguments must be a JSON object",
		})
		return nil, verr
	}

	if len(params) == 1 && !params[0].primitive() {
		if _, nested := lookup(obj, params[0].Name); !nested {
			wrapped := bytes.TrimSpace(raw)
			if len(wrapped) == 0 {
				wrapped = []byte("{}")
			}
			obj = map[string]json.RawMessage{params[0].Name: wrapped}
		}
	}

	out := make([]any, len(params))
	for i, p := range params {
		v, ok := lookup(obj, p.Name)
		if !ok || bytes.Equal(bytes.TrimSpace(v), nullJSON) {
			switch {
			case ok && p.Nullable:
				out[i] = nil
			case p.HasDefault:
				out[i] = p.Default
			case p.Nullable:
				out[i] = nil
			default:
				verr.add(&ValidationError{
					Tool:        t.Name(),
					Param:       p.Name,
					Description: p.Description,
					Value:       rawValue(v),
					Message:     "missing required parameter",
				})
			}
			continue
		}

		v, issues := conform(t.Name(), p, v)
		if len(issues) > 0 {
			for _, ve := range issues {
				verr.add(ve)
			}
			continue
		}

		val, msg := decodeParam(p, v)
		if msg != "" {
			verr.add(&ValidationError{
				Tool:        t.Name(),
				Param:       p.Name,
				Description: p.Description,
				Value:       rawValue(v),
				Message:     msg,
			})
			continue
		}
		out[i] = val
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeArguments unwraps arguments that were sent as a JSON string
// containing an object, and maps empty input to an empty object.
func NormalizeArguments(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullJSON) {
		return json.RawMessage("{}")
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err == nil {
			inner = strings.TrimSpace(inner)
			if strings.HasPrefix(inner, "{") && json.Valid([]byte(inner)) {
				return json.RawMessage(inner)
			}
		}
	}
	return json.RawMessage(trimmed)
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	obj := map[string]json.RawMessage{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullJSON) {
		return obj, nil
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// lookup finds a key exactly, then ignoring case.
func lookup(obj map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	if v, ok := obj[name]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// decodeParam converts one raw argument. A non-empty message reports a mismatch.
func decodeParam(p Param, raw json.RawMessage) (any, string) {
	var val any
	if p.Type != nil {
		ptr := reflect.New(p.Type)
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, fmt.Sprintf("expected %s: %s", expectedName(p), unmarshalReason(err))
		}
		val = ptr.Elem().Interface()
	} else {
		if err := json.Unmarshal(raw, &val); err != nil {
			return nil, fmt.Sprintf("malformed JSON value: %v", err)
		}
		if st := util.SchemaType(p.Schema); st != "" && !util.MatchesType(val, st) {
			return nil, fmt.Sprintf("expected %s, got %s", st, jsonKind(val))
		}
	}

	if enum := enumOf(p.Schema); len(enum) > 0 {
		rv := reflect.ValueOf(val)
		if !rv.IsValid() || rv.Kind() != reflect.String || !slices.Contains(enum, rv.String()) {
			return nil, fmt.Sprintf("must be one of [%s]", strings.Join(enum, ", "))
		}
	}

	return val, ""
}

func expectedName(p Param) string {
	if st := util.SchemaType(p.Schema); st != "" {
		return st
	}
	return p.Type.String()
}

func unmarshalReason(err error) string {
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		if ute.Field != "" {
			return fmt.Sprintf("field %s cannot hold a JSON %s", ute.Field, ute.Value)
		}
		return fmt.Sprintf("got JSON %s", ute.Value)
	}
	return err.Error()
}

func enumOf(schema map[string]any) []string {
	switch v := schema["enum"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
