// Package parser extracts tool calls that a model wrote into its text output.
//
// Three matcher families run over the text:
//   - tag: a JSON object right after an opening tag whose name contains "tool",
//     e.g. [TOOL_REQUEST]{...}[END_TOOL_REQUEST] or <tool_call>{...}</tool_call>
//   - loose: any JSON object with "name" and "arguments" keys
//   - message: a JSON object whose only key is "message" (a reply, not a call)
//
// Matches from all families are ordered by position. Overlaps resolve to the
// match that starts first, so a tagged object is never reported twice. Text
// before the first match becomes the fallback message.
//
// Recognized calls are bound against a tool.Catalog. Unknown tools yield a
// ParseError listing the available tools; argument problems yield
// tool.ValidationErrors. Both are phrased for the model to read.
package parser
