package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Conversation is the ordered message history of a single run.
//
// Contract:
//   - Add ignores messages with neither content nor tool calls
//   - committing an Assistant message purges every earlier Temporary message
//   - Clone performs a deep copy so branches can diverge safely
//
// A Conversation is owned by exactly one run and is not safe for concurrent
// mutation; share it across goroutines only through Clone.
type Conversation struct {
	messages []Message
}

// NewConversation creates a conversation seeded with the given messages.
func NewConversation(msgs ...Message) *Conversation {
	c := &Conversation{}
	for _, m := range msgs {
		c.AddMessage(m)
	}
	return c
}

// Add appends a message built from its parts. See AddMessage.
func (c *Conversation) Add(role Role, content string, toolCalls []ToolCall, temporary bool) {
	c.AddMessage(Message{Role: role, Content: content, ToolCalls: toolCalls, Temporary: temporary})
}

// AddMessage appends m unless it is empty. An Assistant message first sweeps
// all prior temporary messages.
func (c *Conversation) AddMessage(m Message) {
	if m.Empty() {
		return
	}
	if m.Role == RoleAssistant {
		c.sweepTemporary()
	}
	c.messages = append(c.messages, m)
}

// AddSystem appends a System message.
func (c *Conversation) AddSystem(content string) { c.Add(RoleSystem, content, nil, false) }

// AddUser appends a User message.
func (c *Conversation) AddUser(content string) { c.Add(RoleUser, content, nil, false) }

// AddAssistant appends an Assistant message (sweeping temporaries).
func (c *Conversation) AddAssistant(content string, toolCalls ...ToolCall) {
	c.Add(RoleAssistant, content, toolCalls, false)
}

// AddCorrection appends a temporary System message. It survives until the
// next Assistant message is committed.
func (c *Conversation) AddCorrection(content string) { c.Add(RoleSystem, content, nil, true) }

// AddToolResult appends a Tool message describing the outcome of a call.
func (c *Conversation) AddToolResult(r ToolCallResult) {
	content := r.Content()
	if content == "" {
		content = "(no output)"
	}
	c.AddMessage(Message{Role: RoleTool, Content: content, ToolCallID: r.Call.ID, Name: r.Call.Name})
}

func (c *Conversation) sweepTemporary() {
	kept := c.messages[:0]
	for _, m := range c.messages {
		if !m.Temporary {
			kept = append(kept, m)
		}
	}
	// clear the tail so dropped messages do not linger in the backing array
	for i := len(kept); i < len(c.messages); i++ {
		c.messages[i] = Message{}
	}
	c.messages = kept
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// Last returns the most recent message with the given role.
func (c *Conversation) Last(role Role) (Message, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == role {
			return c.messages[i].Clone(), true
		}
	}
	return Message{}, false
}

// HasTemporary reports whether any temporary message is pending.
func (c *Conversation) HasTemporary() bool {
	for _, m := range c.messages {
		if m.Temporary {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return NewConversation()
	}
	return &Conversation{messages: c.Messages()}
}

// Append merges other's messages onto c, optionally skipping System messages.
// Merged messages bypass the temporary sweep so other's history is kept intact.
func (c *Conversation) Append(other *Conversation, includeSystem bool) {
	if other == nil {
		return
	}
	for _, m := range other.messages {
		if !includeSystem && m.Role == RoleSystem {
			continue
		}
		c.messages = append(c.messages, m.Clone())
	}
}

// ToTranscript renders the conversation as "role: content" lines.
func (c *Conversation) ToTranscript(includeSystem bool) string {
	var b strings.Builder
	for _, m := range c.messages {
		if !includeSystem && m.Role == RoleSystem {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		switch {
		case m.Role == RoleTool:
			fmt.Fprintf(&b, "tool[%s]: %s", m.Name, m.Content)
		case m.Content == "" && len(m.ToolCalls) > 0:
			calls := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = tc.String()
			}
			fmt.Fprintf(&b, "%s: %s", m.Role, strings.Join(calls, ", "))
		default:
			fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
		}
	}
	return b.String()
}

// FindCall returns the most recent committed tool call with the same name and
// argument key, plus the Tool message that answered it (if any).
func (c *Conversation) FindCall(name, argsKey string, keyFn func(json.RawMessage) string) (ToolCall, *Message, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role != RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if !strings.EqualFold(tc.Name, name) || keyFn(tc.Arguments) != argsKey {
				continue
			}
			for j := i + 1; j < len(c.messages); j++ {
				if c.messages[j].Role == RoleTool && c.messages[j].ToolCallID == tc.ID {
					res := c.messages[j].Clone()
					return tc.Clone(), &res, true
				}
			}
			return tc.Clone(), nil, true
		}
	}
	return ToolCall{}, nil, false
}

type conversationJSON struct {
	Messages []Message `json:"messages"`
}

// MarshalJSON implements json.Marshaler.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	msgs := c.messages
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(conversationJSON{Messages: msgs})
}

// UnmarshalJSON implements json.Unmarshaler. Messages are restored verbatim,
// temporary flags included.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var cj conversationJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return fmt.Errorf("decode conversation: %w", err)
	}
	c.messages = cj.Messages
	return nil
}
