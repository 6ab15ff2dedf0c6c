package llm

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/retry"
)

// StructuredResult is a typed model answer.
type StructuredResult[T any] struct {
	Value        T
	Raw          string
	Usage        core.Usage
	FinishReason string
	Retries      int
}

// Structured asks the model for a JSON document matching T's schema and
// decodes it. Invalid JSON and schema violations are retried with the
// validation errors as feedback.
func Structured[T any](ctx context.Context, c *Client, conv *core.Conversation, optFns ...func(o *CallOptions)) (*StructuredResult[T], error) {
	schema, err := c.opts.SchemaCache.For(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}

	co := c.callOptions(optFns)
	co.ToolChoice = model.ToolChoiceNone
	req := c.request(conv, co, schema)

	var (
		value T
		raw   string
	)
	finalize := func(text string) error {
		doc := ExtractJSON(text)
		if err := schema.Validate(doc); err != nil {
			return &retry.Signal{
				Correction: err.Error() + "\nRespond only with a JSON document that matches the schema.",
				Cause:      err,
			}
		}
		var v T
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return &retry.Signal{
				Correction: "The JSON could not be decoded: " + err.Error(),
				Cause:      err,
			}
		}
		value, raw = v, doc
		return nil
	}

	t := turn{conv: conv, finalize: finalize}
	chunks, errs := c.policy.ExecuteStream(ctx, req, func(actx context.Context, r *model.Request) (<-chan core.StreamChunk, <-chan error) {
		return c.attempt(actx, r, t)
	})

	res, err := c.collect(chunks, errs)
	if err != nil {
		return nil, err
	}

	return &StructuredResult[T]{
		Value:        value,
		Raw:          raw,
		Usage:        res.Usage,
		FinishReason: res.FinishReason,
		Retries:      res.Retries,
	}, nil
}

// ExtractJSON returns the JSON document inside text, removing Markdown code
// fences and prose around the outermost object or array.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)

	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		} else {
			rest = strings.TrimPrefix(rest, "json")
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}

	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}
