package pipeline

import (
	"fmt"
	"strings"
)

// StepFailure is the value a pipeline carries once a step failed. It flows
// through the remaining nodes like any other payload and implements error so
// it can also leave the pipeline as one.
type StepFailure struct {
	StepName     string
	ExpectedType string
	ActualType   string
	Err          error
}

// Fail returns a StepFailure for step caused by err.
func Fail(step string, err error) *StepFailure {
	return &StepFailure{StepName: step, Err: err}
}

func mismatch(step, expected string, actual any) *StepFailure {
	return &StepFailure{StepName: step, ExpectedType: expected, ActualType: typeName(actual)}
}

// Mismatch reports whether the failure was caused by an unexpected input type.
func (f *StepFailure) Mismatch() bool { return f.ExpectedType != "" }

func (f *StepFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %q failed", f.StepName)
	if f.Mismatch() {
		fmt.Fprintf(&b, ": expected input %s, got %s", f.ExpectedType, f.ActualType)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

func (f *StepFailure) Unwrap() error { return f.Err }

func asFailure(v any) (*StepFailure, bool) {
	f, ok := v.(*StepFailure)
	return f, ok && f != nil
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
