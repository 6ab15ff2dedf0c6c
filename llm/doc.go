// Package llm is the entry point agents use to talk to a model.
//
// A Client wraps a model.Model with three concerns:
//   - inline tool-call extraction (package parser) on the streamed text, plus
//     validation of natively delivered calls
//   - the retry protocol (package retry): invalid arguments, repeated calls,
//     repeated answers and malformed JSON become corrective feedback
//   - token accounting, reported by the provider or estimated locally
//
// Use Complete for text and tool calls, and Structured for typed JSON
// answers validated against a schema derived from the Go type.
package llm
