package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role identifies the author of a Message within a Conversation.
type Role string

const (
	// RoleSystem carries instructions and ephemeral corrections.
	RoleSystem Role = "system"
	// RoleUser carries end-user input.
	RoleUser Role = "user"
	// RoleAssistant carries model output (text and/or tool calls).
	RoleAssistant Role = "assistant"
	// RoleTool carries the outcome of a tool invocation.
	RoleTool Role = "tool"
)

// String implements fmt.Stringer.
func (r Role) String() string { return string(r) }

// ToolCall is a parsed, validated intent to invoke a tool with specific
// arguments, or a plain reply disguised as a call.
//
// Either Name (a real invocation) or Message (a plain reply) is set; both may
// coexist when the model accompanies a call with prose.
type ToolCall struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Parameters []any           `json:"-"` // positional values bound to the tool's declared params
	Message    string          `json:"message,omitempty"`
}

// NewToolCall builds an invocation with a fresh ID.
func NewToolCall(name string, args json.RawMessage) ToolCall {
	return ToolCall{ID: NewID(), Name: name, Arguments: args}
}

// NewMessageCall builds a message-only ToolCall (a reply, not an invocation).
func NewMessageCall(message string) ToolCall {
	return ToolCall{ID: NewID(), Message: message}
}

// IsInvocation reports whether the call names a tool to execute.
func (tc ToolCall) IsInvocation() bool { return tc.Name != "" }

// Valid reports whether the call carries a name or a message.
func (tc ToolCall) Valid() bool { return tc.Name != "" || tc.Message != "" }

// String renders the call as name(arguments), falling back to the message.
func (tc ToolCall) String() string {
	if tc.Name == "" {
		return tc.Message
	}
	args := strings.TrimSpace(string(tc.Arguments))
	if args == "" {
		args = "{}"
	}
	return fmt.Sprintf("%s(%s)", tc.Name, args)
}

// Clone returns a copy that shares no mutable state with tc.
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.Arguments != nil {
		out.Arguments = append(json.RawMessage(nil), tc.Arguments...)
	}
	if tc.Parameters != nil {
		out.Parameters = append([]any(nil), tc.Parameters...)
	}
	return out
}

// ToolCallResult pairs a call with its outcome. At most one of Value and Err
// is set; a message-only call yields a result with neither.
type ToolCallResult struct {
	Call  ToolCall
	Value any
	Err   error
}

// NewToolCallResult records a successful invocation.
func NewToolCallResult(call ToolCall, value any) ToolCallResult {
	return ToolCallResult{Call: call, Value: value}
}

// NewToolCallError records a failed invocation.
func NewToolCallError(call ToolCall, err error) ToolCallResult {
	return ToolCallResult{Call: call, Err: err}
}

// Failed reports whether the invocation produced an error.
func (r ToolCallResult) Failed() bool { return r.Err != nil }

// Content renders the outcome as text suitable for a Tool message.
func (r ToolCallResult) Content() string {
	if r.Err != nil {
		return "Error: " + r.Err.Error()
	}
	switch v := r.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Sprintf("%v", r.Value)
	}
	return string(b)
}

// Message is a single role-tagged entry of a Conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on Tool messages
	Name       string     `json:"name,omitempty"`         // tool name on Tool messages
	Temporary  bool       `json:"temporary,omitempty"`
}

// Empty reports whether the message has neither content nor tool calls.
func (m Message) Empty() bool { return m.Content == "" && len(m.ToolCalls) == 0 }

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	return out
}

// NewID generates a new unique identifier for calls and runs.
func NewID() string { return uuid.NewString() }
