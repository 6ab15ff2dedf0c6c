package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCallLimit is matched by the error returned once a run has used up its
// model calls.
var ErrCallLimit = errors.New("model call limit reached")

// CallLimitError reports the step that asked for one model call too many.
type CallLimitError struct {
	RunID string
	Step  string
	Max   int
}

func (e *CallLimitError) Error() string {
	return fmt.Sprintf("run %s: step %q exceeded max model calls (%d)", e.RunID, e.Step, e.Max)
}

func (e *CallLimitError) Unwrap() error { return ErrCallLimit }

// CallLimiter bounds the model calls of one run. It is shared by every step
// of the run; a nil limiter allows everything.
type CallLimiter struct {
	mu   sync.Mutex
	max  int
	used int
}

// NewCallLimiter creates a limiter allowing max calls. Zero means unlimited.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Acquire reserves one call for step of run runID. A refused call is not
// counted.
func (cl *CallLimiter) Acquire(runID, step string) error {
	if cl == nil {
		return nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.max > 0 && cl.used >= cl.max {
		return &CallLimitError{RunID: runID, Step: step, Max: cl.max}
	}
	cl.used++
	return nil
}

// Used returns the number of calls granted so far.
func (cl *CallLimiter) Used() int {
	if cl == nil {
		return 0
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.used
}

// Remaining returns the calls left, or -1 when unlimited.
func (cl *CallLimiter) Remaining() int {
	if cl == nil {
		return -1
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.max == 0 {
		return -1
	}
	return cl.max - cl.used
}
