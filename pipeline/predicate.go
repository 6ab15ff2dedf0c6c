package pipeline

import (
	"fmt"
	"reflect"

	"github.com/hupe1980/toolmesh/core"
)

// Predicate decides between paths of a Branch or ends a Loop.
type Predicate func(rc *core.RunContext, v any) (bool, error)

// When wraps a typed condition. A value of another type is an error, which
// the pipeline turns into a StepFailure.
func When[T any](fn func(v T) bool) Predicate {
	return func(_ *core.RunContext, v any) (bool, error) {
		t, ok := v.(T)
		if !ok {
			return false, fmt.Errorf("predicate expects %s, got %s", reflect.TypeFor[T](), typeName(v))
		}
		return fn(t), nil
	}
}

// Is reports whether the value has type T.
func Is[T any]() Predicate {
	return func(_ *core.RunContext, v any) (bool, error) {
		_, ok := v.(T)
		return ok, nil
	}
}

// Not negates p.
func Not(p Predicate) Predicate {
	return func(rc *core.RunContext, v any) (bool, error) {
		ok, err := p(rc, v)
		return !ok, err
	}
}
