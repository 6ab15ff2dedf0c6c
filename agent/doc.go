// Package agent provides the primitive steps that connect the LLM client and
// the tool runtime inside a pipeline: Ask a model, ExecuteTools it requested,
// and the ToolLoop that alternates the two until the model answers.
//
// Instructions are text/template strings rendered against the run's shared
// values, or dynamic providers. The package does not implement any
// particular reasoning strategy.
package agent
