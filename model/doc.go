// Package model defines the provider-agnostic boundary for driving chat
// models inside toolmesh.
//
// Core goals:
//   - Stream every response as core.StreamChunk values (text, tool call, usage, finish)
//   - Normalize tool exposure (ToolDefinition, ToolChoice) and JSON mode (Request.JSONSchema)
//   - Keep request shapes minimal and transport independent
//   - Facilitate deterministic mocking for tests (MockModel with scripted turns)
//
// Providers (see the openai and anthropic subpackages) implement the Model
// interface so higher layers (llm, agent) remain decoupled from vendor SDKs.
package model
