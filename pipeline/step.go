package pipeline

import (
	"reflect"

	"github.com/hupe1980/toolmesh/core"
)

// Step is one unit of work. Run receives the output of the previous step.
// Accepts is consulted first; a step that does not accept the current value
// is not run and the pipeline produces a type-mismatch StepFailure instead.
//
// Failures are only handed to steps that explicitly take a *StepFailure.
type Step interface {
	Name() string
	Accepts(v any) bool
	Run(rc *core.RunContext, in any) (any, error)
}

var failureType = reflect.TypeFor[*StepFailure]()

type funcStep[In, Out any] struct {
	name string
	fn   func(rc *core.RunContext, in In) (Out, error)
}

// Func adapts a typed function into a Step.
//
// Example:
//
//	double := pipeline.Func("double", func(_ *core.RunContext, n int) (int, error) {
//	  return n * 2, nil
//	})
func Func[In, Out any](name string, fn func(rc *core.RunContext, in In) (Out, error)) Step {
	return &funcStep[In, Out]{name: name, fn: fn}
}

func (s *funcStep[In, Out]) Name() string { return s.name }

func (s *funcStep[In, Out]) Accepts(v any) bool {
	in := reflect.TypeFor[In]()
	if _, isFailure := asFailure(v); isFailure {
		return in == failureType
	}
	if v == nil {
		return nilable(in)
	}
	_, ok := v.(In)
	return ok
}

func (s *funcStep[In, Out]) Run(rc *core.RunContext, v any) (any, error) {
	in, _ := v.(In)
	return s.fn(rc, in)
}

func (s *funcStep[In, Out]) expected() string { return reflect.TypeFor[In]().String() }

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// expectedType describes what a step takes, for mismatch reports.
func expectedType(s Step) string {
	if e, ok := s.(interface{ expected() string }); ok {
		return e.expected()
	}
	return "unknown"
}
