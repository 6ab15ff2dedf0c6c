package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// Builder assembles a Pipeline. Builders are not safe for concurrent use;
// the built Pipeline is immutable and may be shared.
type Builder struct {
	name  string
	nodes []node
}

// New starts a builder for a pipeline called name.
func New(name string) *Builder {
	return &Builder{name: name}
}

// Add appends steps that run in order, each receiving the previous output.
func (b *Builder) Add(steps ...Step) *Builder {
	for _, s := range steps {
		b.nodes = append(b.nodes, &stepNode{step: s})
	}
	return b
}

// Branch runs the pipeline built by onTrue when pred holds for the current
// value and the one built by onFalse otherwise. onFalse may be nil, in which
// case the value passes through unchanged.
func (b *Builder) Branch(pred Predicate, onTrue, onFalse func(b *Builder)) *Builder {
	name := fmt.Sprintf("%s/branch%d", b.name, len(b.nodes))
	n := &branchNode{name: name, pred: pred, onTrue: sub(name+".true", onTrue)}
	if onFalse != nil {
		n.onFalse = sub(name+".false", onFalse)
	}
	b.nodes = append(b.nodes, n)
	return b
}

// Loop runs the pipeline built by body repeatedly, feeding each round the
// previous round's output, until until holds for a result. After maxRounds
// rounds the loop gives up and continues with the last result.
func (b *Builder) Loop(body func(b *Builder), until Predicate, maxRounds int) *Builder {
	if maxRounds < 1 {
		maxRounds = 1
	}
	name := fmt.Sprintf("%s/loop%d", b.name, len(b.nodes))
	b.nodes = append(b.nodes, &loopNode{name: name, body: sub(name, body), until: until, max: maxRounds})
	return b
}

// OnError installs handler for every node added after it. When one of them
// fails, the handler pipeline receives the *StepFailure and its output
// becomes the result of the whole pipeline.
func (b *Builder) OnError(handler func(b *Builder)) *Builder {
	name := fmt.Sprintf("%s/on_error%d", b.name, len(b.nodes))
	b.nodes = append(b.nodes, &errorNode{handler: sub(name, handler)})
	return b
}

// Build compiles the builder.
func (b *Builder) Build() *Pipeline {
	return &Pipeline{name: b.name, nodes: append([]node(nil), b.nodes...)}
}

func sub(name string, fn func(b *Builder)) *Pipeline {
	sb := New(name)
	if fn != nil {
		fn(sb)
	}
	return sb.Build()
}

// Pipeline is a compiled sequence of steps, branches and loops. It is itself
// a Step, so pipelines nest.
type Pipeline struct {
	name  string
	nodes []node
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Accepts reports true for every value except a failure.
func (p *Pipeline) Accepts(v any) bool {
	_, failed := asFailure(v)
	return !failed
}

// Run implements Step. A failure is returned as the output value.
func (p *Pipeline) Run(rc *core.RunContext, in any) (any, error) {
	return p.Execute(rc, in), nil
}

func (p *Pipeline) expected() string { return "any" }

// Execute runs the pipeline and returns its final value, which is a
// *StepFailure when a step failed and no handler recovered it.
func (p *Pipeline) Execute(rc *core.RunContext, in any) any {
	cur := in
	var handler *Pipeline

	for _, n := range p.nodes {
		if h, ok := n.(*errorNode); ok {
			handler = h.handler
			continue
		}

		if err := rc.Err(); err != nil {
			if _, failed := asFailure(cur); !failed {
				cur = Fail(p.name, err)
			}
		}

		cur = n.exec(rc, p, cur)

		if f, failed := asFailure(cur); failed && handler != nil {
			rc.LogWarn("pipeline.on_error", "pipeline", p.name, "step", f.StepName, "handler", handler.name)
			return handler.Execute(rc, f)
		}
	}
	return cur
}

// Output converts a pipeline result into T. A failure, or a value of another
// type, is returned as a *StepFailure.
func Output[T any](v any) (T, *StepFailure) {
	var zero T
	if f, failed := asFailure(v); failed {
		return zero, f
	}
	if v == nil && nilable(reflect.TypeFor[T]()) {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, mismatch("output", reflect.TypeFor[T]().String(), v)
	}
	return t, nil
}

// Invoke executes p and converts the result with Output.
func Invoke[T any](rc *core.RunContext, p *Pipeline, in any) (T, error) {
	out, f := Output[T](p.Execute(rc, in))
	if f != nil {
		return out, f
	}
	return out, nil
}

type node interface {
	exec(rc *core.RunContext, p *Pipeline, in any) any
}

type stepNode struct {
	step Step
}

func (n *stepNode) exec(rc *core.RunContext, p *Pipeline, in any) any {
	name := n.step.Name()
	f, failed := asFailure(in)

	if !n.step.Accepts(in) {
		if failed {
			return f
		}
		f := mismatch(name, expectedType(n.step), in)
		logging.LogStep(rc.Logger(), p.name, name, 0, f)
		return f
	}

	start := time.Now()
	out, err := runStep(rc.WithStep(name), n.step, in)
	if err != nil {
		var sf *StepFailure
		if !errors.As(err, &sf) {
			sf = Fail(name, err)
		}
		logging.LogStep(rc.Logger(), p.name, name, time.Since(start), sf)
		return sf
	}
	if sf, failed := asFailure(out); failed {
		logging.LogStep(rc.Logger(), p.name, name, time.Since(start), sf)
		return sf
	}

	logging.LogStep(rc.Logger(), p.name, name, time.Since(start), nil)
	return out
}

func runStep(rc *core.RunContext, s Step, in any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
			logging.LogPanic(rc.Logger(), "pipeline.step.panic", err, "step", s.Name())
		}
	}()
	return s.Run(rc, in)
}

func evaluate(rc *core.RunContext, pred Predicate, v any) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("predicate panic: %v", r)
		}
	}()
	if pred == nil {
		return false, errors.New("nil predicate")
	}
	return pred(rc, v)
}

type branchNode struct {
	name    string
	pred    Predicate
	onTrue  *Pipeline
	onFalse *Pipeline
}

func (n *branchNode) exec(rc *core.RunContext, _ *Pipeline, in any) any {
	if _, failed := asFailure(in); failed {
		return in
	}

	ok, err := evaluate(rc.WithStep(n.name), n.pred, in)
	if err != nil {
		return Fail(n.name, err)
	}

	rc.LogDebug("pipeline.branch", "branch", n.name, "taken", ok)
	switch {
	case ok:
		return n.onTrue.Execute(rc, in)
	case n.onFalse != nil:
		return n.onFalse.Execute(rc, in)
	default:
		return in
	}
}

type loopNode struct {
	name  string
	body  *Pipeline
	until Predicate
	max   int
}

func (n *loopNode) exec(rc *core.RunContext, _ *Pipeline, in any) any {
	if _, failed := asFailure(in); failed {
		return in
	}

	cur := in
	for round := 1; round <= n.max; round++ {
		if err := rc.Err(); err != nil {
			return Fail(n.name, err)
		}

		cur = n.body.Execute(rc, cur)
		if _, failed := asFailure(cur); failed {
			return cur
		}

		done, err := evaluate(rc.WithStep(n.name), n.until, cur)
		if err != nil {
			return Fail(n.name, err)
		}
		if done {
			rc.LogDebug("pipeline.loop.done", "loop", n.name, "rounds", round)
			return cur
		}
	}

	rc.LogWarn("pipeline.loop.max_rounds", "loop", n.name, "rounds", n.max)
	return cur
}

type errorNode struct {
	handler *Pipeline
}

func (n *errorNode) exec(_ *core.RunContext, _ *Pipeline, in any) any { return in }
