package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/toolmesh/core"
)

// Signal is the retryable error. Returning it from a stream abandons the
// current attempt; Correction is shown to the model before the next one.
type Signal struct {
	Correction string
	// Previous is set when the model repeated a call whose result is already known.
	Previous *core.ToolCallResult
	Cause    error
}

// NewSignal returns a Signal asking the model to change its output as described.
func NewSignal(correction string) *Signal {
	return &Signal{Correction: correction}
}

// Errorf formats a correction and records the wrapped cause, if any.
func Errorf(format string, args ...any) *Signal {
	err := fmt.Errorf(format, args...)
	return &Signal{Correction: err.Error(), Cause: errors.Unwrap(err)}
}

func (s *Signal) Error() string {
	return "retryable: " + s.Correction
}

func (s *Signal) Unwrap() error { return s.Cause }

// IsRetryable reports whether err carries a Signal.
func IsRetryable(err error) bool {
	var s *Signal
	return errors.As(err, &s)
}

// AsSignal extracts the Signal carried by err.
func AsSignal(err error) (*Signal, bool) {
	var s *Signal
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

func timeoutSignal(attempt int, err error) *Signal {
	return &Signal{
		Correction: fmt.Sprintf("Attempt %d took too long and was cancelled. Answer more directly.", attempt),
		Cause:      err,
	}
}

// isAttemptTimeout reports whether err is the attempt deadline firing while
// the caller is still waiting.
func isAttemptTimeout(parent context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}
