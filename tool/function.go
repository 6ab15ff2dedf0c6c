package tool

import (
	"context"
	"fmt"
	"slices"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds the declared parameter list and the schema derived from it
//   - Invokes the wrapped function with positional arguments already bound by
//     the runtime (see Bind)
//   - Recovers nothing itself; panics and errors are normalized by Runtime
//
// Concurrency:
//
//	A FunctionTool has no internal mutable state after construction and is safe for
//	concurrent use by multiple goroutines.
type FunctionTool struct {
	name        string
	description string
	params      []Param
	schema      map[string]any
	tags        []string
	fn          func(ctx context.Context, args []any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit parameter list and function.
//
// Example:
//
//	sum := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  []Param{Number("a", "first addend"), Number("b", "second addend")},
//	  func(ctx context.Context, args []any) (any, error) {
//	    return args[0].(float64) + args[1].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	params []Param,
	fn func(ctx context.Context, args []any) (any, error),
) *FunctionTool {
	ps := slices.Clone(params)
	return &FunctionTool{
		name:        name,
		description: description,
		params:      ps,
		schema:      SchemaFor(ps),
		fn:          fn,
	}
}

// NewTypedTool wraps a function taking a single request struct. The tool
// declares one parameter named "input" whose schema is derived from T; flat
// model arguments are wrapped under it during binding.
//
// Example:
//
//	type WeatherArgs struct {
//	  City string `json:"city" description:"City name"`
//	}
//
//	weather := NewTypedTool("get_weather", "Current weather for a city",
//	  func(ctx context.Context, in WeatherArgs) (string, error) { return "sunny", nil })
func NewTypedTool[T, R any](name, description string, fn func(ctx context.Context, in T) (R, error)) *FunctionTool {
	p := StructParam[T]("input", description)
	return NewFunctionTool(name, description, []Param{p}, func(ctx context.Context, args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		in, ok := args[0].(T)
		if !ok {
			return nil, fmt.Errorf("expected argument of type %T, got %T", *new(T), args[0])
		}
		return fn(ctx, in)
	})
}

// WithTags attaches tags and returns t for chaining.
func (t *FunctionTool) WithTags(tags ...string) *FunctionTool {
	t.tags = append(t.tags, tags...)
	return t
}

// Name returns the unique tool name used in call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Params returns the declared parameters.
func (t *FunctionTool) Params() []Param { return slices.Clone(t.params) }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.schema }

// Tags returns the tool's tags.
func (t *FunctionTool) Tags() []string { return slices.Clone(t.tags) }

// Call invokes the underlying function.
func (t *FunctionTool) Call(ctx context.Context, args []any) (any, error) {
	return t.fn(ctx, args)
}
