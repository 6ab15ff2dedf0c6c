// Package pipeline composes typed steps into sequences, branches and bounded
// loops.
//
// Each step receives the previous step's output. When a step does not accept
// the value it is handed, or returns an error, or panics, the pipeline
// carries a *StepFailure instead. Failures skip every following step except
// those whose input type is *StepFailure, and an OnError handler converts a
// failure into the pipeline's final result.
//
// Example:
//
//	p := pipeline.New("answer").
//	  Add(agent.Ask(client)).
//	  Loop(func(b *pipeline.Builder) {
//	    b.Add(agent.ExecuteTools(rt), agent.Ask(client))
//	  }, agent.Done(), 8).
//	  Build()
//
//	res, err := pipeline.Invoke[*llm.Result](rc, p, rc.Conversation)
package pipeline
