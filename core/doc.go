// Package core provides the foundational data model shared by every layer of
// toolmesh:
//
//   - Message / Role / Conversation (ordered history with temporary corrections)
//   - ToolCall / ToolCallResult (validated invocation intents and their outcomes)
//   - StreamChunk (text, tool call, usage and finish fragments of a model stream)
//   - Usage / UsageTracker (token accounting)
//   - RunContext (explicit execution scope threaded through pipeline steps)
//
// Implementation concerns (providers, tool execution, control flow) live in
// the packages built on top of these types.
package core
