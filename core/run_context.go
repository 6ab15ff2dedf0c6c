package core

import (
	"context"
	"maps"

	"github.com/hupe1980/toolmesh/logging"
)

// RunContext carries the execution scope threaded through every pipeline
// step. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (RunID and the current Step name)
//   - The working Conversation of the run
//   - A per-run model call Limiter
//   - Free-form Values shared between steps
//
// Steps never read ambient globals; anything they need travels here.
type RunContext struct {
	Context      context.Context
	RunID        string
	Step         string
	Conversation *Conversation
	Limiter      *CallLimiter
	Values       map[string]any

	*loggerAdapter
}

// NewRunContext constructs a RunContext with a fresh RunID.
func NewRunContext(ctx context.Context, conv *Conversation, logger logging.Logger) *RunContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if conv == nil {
		conv = NewConversation()
	}
	runID := NewID()
	return &RunContext{
		Context:       ctx,
		RunID:         runID,
		Conversation:  conv,
		Values:        map[string]any{},
		loggerAdapter: newLoggerAdapter(logging.Scoped(logger, runID, "")),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// Get returns a shared value.
func (rc *RunContext) Get(k string) (any, bool) {
	v, ok := rc.Values[k]
	return v, ok
}

// Set stores a shared value.
func (rc *RunContext) Set(k string, v any) { rc.Values[k] = v }

// Clone returns a shallow copy with its own Values map. The Conversation and
// Limiter are shared.
func (rc *RunContext) Clone() *RunContext {
	c := *rc
	c.Values = make(map[string]any, len(rc.Values))
	maps.Copy(c.Values, rc.Values)
	return &c
}

// WithStep clones the context and sets the current step name. A
// *logging.RuntimeLogger is tagged with the run and step.
func (rc *RunContext) WithStep(name string) *RunContext {
	c := rc.Clone()
	c.Step = name
	c.loggerAdapter = newLoggerAdapter(logging.Scoped(rc.Logger(), rc.RunID, name))
	return c
}

// AcquireCall charges one model call of the current step to the run's Limiter.
func (rc *RunContext) AcquireCall() error {
	return rc.Limiter.Acquire(rc.RunID, rc.Step)
}

// WithContext clones the run context around a derived context.Context.
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	c := rc.Clone()
	c.Context = ctx
	return c
}
