package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// RuntimeOptions configure a Runtime.
type RuntimeOptions struct {
	MaxParallel int           // 0 or <1 => one goroutine per call
	Timeout     time.Duration // per call; 0 disables
	Logger      logging.Logger
}

// Runtime executes validated tool calls against a Catalog.
//
// Guarantees:
//   - exactly one result per call, in submission order
//   - a failing or panicking tool never aborts the rest of a batch
//   - message-only calls pass through without execution
type Runtime struct {
	catalog *Catalog
	opts    RuntimeOptions
}

// NewRuntime constructs a runtime over catalog.
func NewRuntime(catalog *Catalog, optFns ...func(o *RuntimeOptions)) *Runtime {
	opts := RuntimeOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Runtime{catalog: catalog, opts: opts}
}

// Catalog returns the underlying catalog.
func (r *Runtime) Catalog() *Catalog { return r.catalog }

// HandleToolCall executes a single call.
func (r *Runtime) HandleToolCall(ctx context.Context, call core.ToolCall) core.ToolCallResult {
	if !call.IsInvocation() {
		return core.ToolCallResult{Call: call}
	}

	logger := r.opts.Logger

	t, ok := r.catalog.Get(call.Name)
	if !ok {
		err := &ExecutionError{
			Tool:    call.Name,
			Message: fmt.Sprintf("unknown tool %q", call.Name),
			Code:    CodeNotFound,
			Err:     ErrToolNotFound,
		}
		logger.Warn("tool.call.not_found", "tool", call.Name, "call_id", call.ID)
		return core.NewToolCallError(call, err)
	}

	args := call.Parameters
	if len(args) == 0 && len(t.Params()) > 0 {
		bound, err := Bind(t, call.Arguments)
		if err != nil {
			logger.Warn("tool.call.validation_failed", "tool", t.Name(), "call_id", call.ID, "error", err.Error())
			return core.NewToolCallError(call, err)
		}
		args = bound
		call.Parameters = bound
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	logger.Debug("tool.call.start", "tool", t.Name(), "call_id", call.ID)

	start := time.Now()
	value, err := r.invoke(ctx, t, args)
	logging.LogToolCall(logger, t.Name(), time.Since(start), err)

	if err != nil {
		return core.NewToolCallError(call, err)
	}
	return core.NewToolCallResult(call, value)
}

// HandleToolCalls executes calls concurrently and returns results in
// submission order.
func (r *Runtime) HandleToolCalls(ctx context.Context, calls []core.ToolCall) []core.ToolCallResult {
	switch len(calls) {
	case 0:
		return nil
	case 1:
		return []core.ToolCallResult{r.HandleToolCall(ctx, calls[0])}
	}

	batchStart := time.Now()

	mapper := iter.Mapper[core.ToolCall, core.ToolCallResult]{MaxGoroutines: r.parallelism(len(calls))}
	results := mapper.Map(calls, func(c *core.ToolCall) core.ToolCallResult {
		if err := ctx.Err(); err != nil {
			return core.NewToolCallError(*c, err)
		}
		return r.HandleToolCall(ctx, *c)
	})

	r.opts.Logger.Debug(
		"tool.batch.complete",
		"count", len(calls),
		"parallelism", r.parallelism(len(calls)),
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

func (r *Runtime) parallelism(n int) int {
	if r.opts.MaxParallel <= 0 || r.opts.MaxParallel > n {
		return n
	}
	return r.opts.MaxParallel
}

// invoke runs the tool with panic safety and awaits deferred results.
func (r *Runtime) invoke(ctx context.Context, t Tool, args []any) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			perr := &panicErr{val: rec, stack: debug.Stack()}
			logging.LogPanic(r.opts.Logger, "tool.call.panic", perr, "tool", t.Name())
			value = nil
			err = &ExecutionError{
				Tool:    t.Name(),
				Message: fmt.Sprintf("panic: %v", rec),
				Code:    CodeExecution,
				Err:     perr,
			}
		}
	}()

	value, err = t.Call(ctx, args)
	if err != nil {
		return nil, wrapExecution(t.Name(), err)
	}

	value, err = await(ctx, value)
	if err != nil {
		return nil, wrapExecution(t.Name(), err)
	}
	return value, nil
}

func wrapExecution(name string, err error) error {
	var verrs *ValidationErrors
	if errors.As(err, &verrs) {
		return err
	}
	return NewExecutionError(name, err)
}

// await resolves Futures and single-value channels.
func await(ctx context.Context, v any) (any, error) {
	switch f := v.(type) {
	case Future:
		return f.Await(ctx)
	case <-chan any:
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res, ok := <-f:
			if !ok {
				return nil, nil
			}
			if err, isErr := res.(error); isErr {
				return nil, err
			}
			return res, nil
		}
	}
	return v, nil
}

// AppendResults records results as Tool messages. Message-only results are skipped.
func AppendResults(conv *core.Conversation, results []core.ToolCallResult) {
	for _, res := range results {
		if !res.Call.IsInvocation() {
			continue
		}
		conv.AddToolResult(res)
	}
}

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
