package llm

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hupe1980/toolmesh/internal/util"
)

// Schema is the JSON schema for one Go type, compiled for validation.
type Schema struct {
	Name       string
	Definition map[string]any
	compiled   *gojsonschema.Schema
}

// Validate checks doc against the schema. Invalid JSON and schema violations
// are both reported as errors worded for the model.
func (s *Schema) Validate(doc string) error {
	res, err := s.compiled.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("response does not match the schema: %s", strings.Join(msgs, "; "))
}

// SchemaCache maps Go types to compiled schemas. It is safe for concurrent
// use; concurrent misses for the same type may compile twice but all callers
// observe the first stored entry.
type SchemaCache struct {
	entries sync.Map // reflect.Type -> *Schema
}

// NewSchemaCache returns an empty cache.
func NewSchemaCache() *SchemaCache { return &SchemaCache{} }

// For returns the schema for t, building and caching it on first use.
func (c *SchemaCache) For(t reflect.Type) (*Schema, error) {
	if v, ok := c.entries.Load(t); ok {
		return v.(*Schema), nil
	}

	def := util.SchemaFor(t)
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", t, err)
	}

	s := &Schema{Name: schemaName(t), Definition: def, compiled: compiled}
	actual, _ := c.entries.LoadOrStore(t, s)
	return actual.(*Schema), nil
}

// Len returns the number of cached types.
func (c *SchemaCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func schemaName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return "response"
}
