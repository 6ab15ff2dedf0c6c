package agent

import (
	"errors"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/llm"
	"github.com/hupe1980/toolmesh/pipeline"
	"github.com/hupe1980/toolmesh/tool"
)

// System resolves inst and adds it as a system message to the incoming
// conversation. An empty instruction adds nothing.
func System(inst Instruction) pipeline.Step {
	return pipeline.Func("system", func(rc *core.RunContext, conv *core.Conversation) (*core.Conversation, error) {
		text, err := inst.Resolve(rc)
		if err != nil {
			return nil, err
		}
		conv.AddSystem(text)
		return conv, nil
	})
}

// User resolves inst and adds it as a user message to the incoming
// conversation.
func User(inst Instruction) pipeline.Step {
	return pipeline.Func("user", func(rc *core.RunContext, conv *core.Conversation) (*core.Conversation, error) {
		text, err := inst.Resolve(rc)
		if err != nil {
			return nil, err
		}
		conv.AddUser(text)
		return conv, nil
	})
}

// Ask sends the incoming conversation to the model and commits the assistant
// turn to it. The run's CallLimiter, when set, is charged once per call.
func Ask(client *llm.Client, optFns ...func(o *llm.CallOptions)) pipeline.Step {
	return pipeline.Func("ask", func(rc *core.RunContext, conv *core.Conversation) (*llm.Result, error) {
		if err := rc.AcquireCall(); err != nil {
			return nil, err
		}

		res, err := client.Complete(rc.Context, conv, optFns...)
		if err != nil {
			return nil, err
		}

		client.Commit(conv, res)
		return res, nil
	})
}

// ExecuteTools runs the invocations of a turn and appends their results to
// the conversation the turn was committed to, which it returns for the next
// Ask. Uncommitted turns fall back to the run's conversation.
func ExecuteTools(rt *tool.Runtime) pipeline.Step {
	return pipeline.Func("execute_tools", func(rc *core.RunContext, res *llm.Result) (*core.Conversation, error) {
		conv := res.Conversation
		if conv == nil {
			conv = rc.Conversation
		}
		if conv == nil {
			return nil, errors.New("no conversation to append tool results to")
		}

		results := rt.HandleToolCalls(rc.Context, res.Invocations())
		tool.AppendResults(conv, results)

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		rc.LogDebug("agent.tools.executed", "calls", len(results), "failed", failed)
		return conv, nil
	})
}

// Done holds once a turn requests no more tools.
func Done() pipeline.Predicate {
	return pipeline.When(func(res *llm.Result) bool { return !res.HasInvocations() })
}

// ToolLoop asks the model and executes requested tools until a turn
// requests none, for at most maxRounds model calls. Its input is the run's
// conversation. It ends with the final *llm.Result, or with the conversation
// holding the last tool results when the round limit was reached.
func ToolLoop(client *llm.Client, rt *tool.Runtime, maxRounds int, optFns ...func(o *llm.CallOptions)) *pipeline.Pipeline {
	return pipeline.New("tool_loop").
		Loop(func(b *pipeline.Builder) {
			b.Add(Ask(client, optFns...)).
				Branch(pipeline.Not(Done()), func(b *pipeline.Builder) {
					b.Add(ExecuteTools(rt))
				}, nil)
		}, pipeline.Is[*llm.Result](), maxRounds).
		Build()
}
