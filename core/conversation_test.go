package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_AddIgnoresEmpty(t *testing.T) {
	c := NewConversation()
	c.Add(RoleUser, "", nil, false)
	assert.Equal(t, 0, c.Len())

	c.Add(RoleAssistant, "", []ToolCall{NewToolCall("search", json.RawMessage(`{"q":"go"}`))}, false)
	assert.Equal(t, 1, c.Len())
}

func TestConversation_AssistantSweepsTemporary(t *testing.T) {
	c := NewConversation()
	c.AddSystem("be brief")
	c.AddUser("hello")
	c.AddCorrection("your last answer was not valid JSON")
	c.AddCorrection("try again")
	require.True(t, c.HasTemporary())
	require.Equal(t, 4, c.Len())

	c.AddAssistant("ok")

	assert.False(t, c.HasTemporary())
	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "ok", msgs[2].Content)
}

func TestConversation_TemporaryAfterAssistantSurvives(t *testing.T) {
	c := NewConversation()
	c.AddAssistant("first")
	c.AddCorrection("fix it")
	c.AddUser("again")
	assert.True(t, c.HasTemporary())
	assert.Equal(t, 3, c.Len())
}

func TestConversation_CloneIsDeep(t *testing.T) {
	c := NewConversation()
	c.AddAssistant("", NewToolCall("a", json.RawMessage(`{"x":1}`)))

	cl := c.Clone()
	cl.AddUser("only in clone")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 2, cl.Len())

	msgs := cl.Messages()
	msgs[0].ToolCalls[0].Name = "mutated"
	last, ok := c.Last(RoleAssistant)
	require.True(t, ok)
	assert.Equal(t, "a", last.ToolCalls[0].Name)
}

func TestConversation_Append(t *testing.T) {
	a := NewConversation()
	a.AddUser("q1")

	b := NewConversation()
	b.AddSystem("sys")
	b.AddAssistant("a1")

	a.Append(b, false)
	assert.Equal(t, 2, a.Len())

	a.Append(b, true)
	assert.Equal(t, 4, a.Len())
}

func TestConversation_ToTranscript(t *testing.T) {
	c := NewConversation()
	c.AddSystem("sys")
	c.AddUser("what is 2+2?")
	call := NewToolCall("calc", json.RawMessage(`{"expr":"2+2"}`))
	c.AddAssistant("", call)
	c.AddToolResult(NewToolCallResult(call, 4))

	got := c.ToTranscript(false)
	assert.Equal(t, "user: what is 2+2?\nassistant: calc({\"expr\":\"2+2\"})\ntool[calc]: 4", got)
	assert.Contains(t, c.ToTranscript(true), "system: sys")
}

func TestConversation_JSONRoundTrip(t *testing.T) {
	c := NewConversation()
	c.AddSystem("sys")
	c.AddUser("hi")
	call := ToolCall{ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`), Message: "looking"}
	c.AddAssistant("thinking", call)
	c.AddToolResult(NewToolCallResult(call, map[string]any{"hits": 3}))
	c.AddCorrection("temporary note")

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var restored Conversation
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, c.Messages(), restored.Messages())
	assert.True(t, restored.HasTemporary())
}

func TestConversation_FindCall(t *testing.T) {
	c := NewConversation()
	call := ToolCall{ID: "c1", Name: "Search", Arguments: json.RawMessage(`{"q":"go"}`)}
	c.AddAssistant("", call)
	c.AddToolResult(NewToolCallResult(call, "found"))

	key := func(raw json.RawMessage) string { return string(raw) }
	prev, res, ok := c.FindCall("search", `{"q":"go"}`, key)
	require.True(t, ok)
	assert.Equal(t, "c1", prev.ID)
	require.NotNil(t, res)
	assert.Equal(t, "found", res.Content)

	_, _, ok = c.FindCall("search", `{"q":"rust"}`, key)
	assert.False(t, ok)
}

func TestToolCallResult_Content(t *testing.T) {
	call := NewToolCall("x", nil)
	assert.Equal(t, "hello", NewToolCallResult(call, "hello").Content())
	assert.Equal(t, `{"a":1}`, NewToolCallResult(call, map[string]int{"a": 1}).Content())
	assert.Equal(t, "Error: boom", NewToolCallError(call, assertErr("boom")).Content())
	assert.Equal(t, "", ToolCallResult{Call: NewMessageCall("hi")}.Content())
}

func TestToolCall_Validity(t *testing.T) {
	assert.False(t, ToolCall{}.Valid())
	assert.True(t, NewMessageCall("hi").Valid())
	assert.False(t, NewMessageCall("hi").IsInvocation())
	assert.Equal(t, "x({})", NewToolCall("x", nil).String())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
