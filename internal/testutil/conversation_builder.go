package testutil

import (
	"encoding/json"

	"github.com/hupe1980/toolmesh/core"
)

// ConversationBuilder provides a fluent helper for constructing conversations in tests.
// Example:
//
//	conv := NewConversationBuilder().System("be brief").User("hi").Assistant("hello").Build()
//
// Chain only the parts you need. Messages are added through core.Conversation,
// so the temporary-sweep rules apply while building.
type ConversationBuilder struct {
	conv *core.Conversation
}

// NewConversationBuilder creates an empty builder.
func NewConversationBuilder() *ConversationBuilder {
	return &ConversationBuilder{conv: core.NewConversation()}
}

// System appends a system message (chainable).
func (b *ConversationBuilder) System(t string) *ConversationBuilder { b.conv.AddSystem(t); return b }

// User appends a user message (chainable).
func (b *ConversationBuilder) User(t string) *ConversationBuilder { b.conv.AddUser(t); return b }

// Assistant appends an assistant text message (chainable).
func (b *ConversationBuilder) Assistant(t string) *ConversationBuilder {
	b.conv.AddAssistant(t)
	return b
}

// Correction appends a temporary system message (chainable).
func (b *ConversationBuilder) Correction(t string) *ConversationBuilder {
	b.conv.AddCorrection(t)
	return b
}

// ToolCall appends an assistant message invoking a tool with the given JSON
// arguments and a deterministic id (chainable).
func (b *ConversationBuilder) ToolCall(id, name, args string) *ConversationBuilder {
	b.conv.AddAssistant("", core.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)})
	return b
}

// ToolResult appends a tool message answering the call with the given id (chainable).
func (b *ConversationBuilder) ToolResult(id, name string, result any, err error) *ConversationBuilder {
	call := core.ToolCall{ID: id, Name: name}
	if err != nil {
		b.conv.AddToolResult(core.NewToolCallError(call, err))
	} else {
		b.conv.AddToolResult(core.NewToolCallResult(call, result))
	}
	return b
}

// Build returns the constructed conversation.
func (b *ConversationBuilder) Build() *core.Conversation { return b.conv.Clone() }

// Call builds a ToolCall with a deterministic id.
func Call(id, name, args string) core.ToolCall {
	return core.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}
