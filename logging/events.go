package logging

import "time"

// Domain helpers operate on any Logger so components holding only the minimal
// interface can still emit consistently shaped records.

// LogToolCall records execution details for a tool invocation.
func LogToolCall(l Logger, tool string, dur time.Duration, err error) {
	if l == nil {
		return
	}
	if err != nil {
		l.Error("tool.call.failed", "tool", tool, "duration", dur, "error", err.Error())
		return
	}
	l.Info("tool.call.completed", "tool", tool, "duration", dur)
}

// LogLLMCall records model call latency, token usage and outcome.
func LogLLMCall(l Logger, model string, tokens int, estimated bool, dur time.Duration, err error) {
	if l == nil {
		return
	}
	if err != nil {
		l.Error("llm.call.failed", "model", model, "token_count", tokens, "estimated", estimated, "duration", dur, "error", err.Error())
		return
	}
	l.Info("llm.call.completed", "model", model, "token_count", tokens, "estimated", estimated, "duration", dur)
}

// LogStep records the outcome of a single pipeline step.
func LogStep(l Logger, pipeline, step string, dur time.Duration, failure error) {
	if l == nil {
		return
	}
	if failure != nil {
		l.Warn("pipeline.step.failed", "pipeline", pipeline, "step", step, "duration", dur, "error", failure.Error())
		return
	}
	l.Debug("pipeline.step.completed", "pipeline", pipeline, "step", step, "duration", dur)
}

// Scoped returns l tagged with the run and step identifiers when it is a
// *RuntimeLogger. Other loggers are returned unchanged.
func Scoped(l Logger, runID, step string) Logger {
	if rl, ok := l.(*RuntimeLogger); ok && rl != nil {
		return rl.WithRun(runID, step)
	}
	return l
}

// LogPanic records a recovered panic. A *RuntimeLogger adds the stack of the
// panicking goroutine, so call it from the deferred recover.
func LogPanic(l Logger, msg string, err error, args ...any) {
	if l == nil {
		return
	}
	if rl, ok := l.(*RuntimeLogger); ok && rl != nil {
		rl.ErrorWithStack(err, msg, args...)
		return
	}
	l.Error(msg, append(args, "error", err.Error())...)
}
