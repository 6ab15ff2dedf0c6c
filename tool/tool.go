// Package tool implements the tool calling subsystem: a catalog of named
// capabilities with declared parameters, argument binding from model supplied
// JSON, and a runtime that executes validated calls with consistent error
// handling.
package tool

import (
	"context"
)

// Tool defines the interface for extending an agent with external functions.
//
// Tools are registered in a Catalog and advertised to models through the
// schema returned by Parameters. Arguments arrive already bound to the
// declared Params, in declaration order.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Declare every parameter explicitly
//   - Handle errors gracefully and respect ctx cancellation
//   - Be safe for concurrent use, since batches run in parallel
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Params returns the declared positional parameters.
	Params() []Param

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Tags returns free-form labels used to select subsets of a catalog.
	Tags() []string

	// Call executes the tool with bound positional arguments.
	Call(ctx context.Context, args []any) (any, error)
}

// Adapter is implemented by values that can produce a Tool on demand.
type Adapter interface {
	AsTool() (Tool, error)
}

// Provider is implemented by owners exposing a set of tool candidates. Each
// candidate should be a Tool or an Adapter.
type Provider interface {
	Tools() []any
}

// Future is a deferred tool result. Tools may return one to signal
// asynchronous completion; the runtime awaits it.
type Future interface {
	Await(ctx context.Context) (any, error)
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc func(ctx context.Context) (any, error)

// Await implements Future.
func (f FutureFunc) Await(ctx context.Context) (any, error) { return f(ctx) }
