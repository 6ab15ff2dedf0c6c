package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/testutil"
	"github.com/hupe1980/toolmesh/model"
)

func sse(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "data: %s\n\n", e)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func chunk(choices string) string {
	return `{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":` + choices + `}`
}

func newTestModel(t *testing.T, body string, seen *map[string]any) *Model {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	client := openai.NewClient(
		option.WithBaseURL(srv.URL+"/"),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)
	return NewModelFromClient(&client)
}

func TestGenerate_TextToolCallsAndUsage(t *testing.T) {
	body := sse(
		chunk(`[{"index":0,"delta":{"content":"Let me "}}]`),
		chunk(`[{"index":0,"delta":{"content":"check."}}]`),
		chunk(`[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"add","arguments":"{\"a\":"}}]}}]`),
		chunk(`[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1,\"b\":2}"}}]}}]`),
		chunk(`[{"index":0,"delta":{},"finish_reason":"tool_calls"}]`),
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7,"total_tokens":19}}`,
	)
	m := newTestModel(t, body, nil)

	conv := testutil.NewConversationBuilder().User("add 1 and 2").Build()
	d := testutil.Drain(m.Generate(context.Background(), model.Request{Conversation: conv}))
	require.NoError(t, d.Err)

	assert.Equal(t, "Let me check.", d.Text)
	require.Len(t, d.ToolCalls, 1)
	assert.Equal(t, "call_1", d.ToolCalls[0].ID)
	assert.Equal(t, "add", d.ToolCalls[0].Name)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(d.ToolCalls[0].Arguments))
	assert.True(t, d.Finished)

	var usage *core.Usage
	for _, c := range d.Chunks {
		if c.Kind == core.ChunkUsage {
			u := c.Usage
			usage = &u
		}
	}
	require.NotNil(t, usage)
	assert.Equal(t, 19, usage.Total())
	assert.Equal(t, core.ChunkFinish, d.Chunks[len(d.Chunks)-1].Kind)
	assert.Equal(t, core.FinishToolCalls, d.Chunks[len(d.Chunks)-1].FinishReason)
}

func TestGenerate_MissingFinishReason(t *testing.T) {
	m := newTestModel(t, sse(chunk(`[{"index":0,"delta":{"content":"partial"}}]`)), nil)

	d := testutil.Drain(m.Generate(context.Background(), model.Request{Conversation: core.NewConversation()}))
	require.Error(t, d.Err)
	assert.Contains(t, d.Err.Error(), "without finish reason")
	assert.False(t, d.Finished)
}

func TestGenerate_RequestShape(t *testing.T) {
	var seen map[string]any
	m := newTestModel(t, sse(chunk(`[{"index":0,"delta":{"content":"ok"},"finish_reason":"stop"}]`)), &seen)

	req := model.Request{
		Conversation: testutil.NewConversationBuilder().System("be brief").User("hi").Build(),
		Tools: []model.ToolDefinition{{
			Name:        "add",
			Description: "Add",
			Parameters:  map[string]any{"type": "object"},
		}},
		ToolChoice: model.ToolChoiceRequired,
	}
	d := testutil.Drain(m.Generate(context.Background(), req))
	require.NoError(t, d.Err)

	assert.Equal(t, "gpt-4o-mini", seen["model"])
	assert.Equal(t, true, seen["stream"])
	assert.Equal(t, "required", seen["tool_choice"])
	assert.Len(t, seen["tools"], 1)
	assert.Len(t, seen["messages"], 2)
	assert.Equal(t, map[string]any{"include_usage": true}, seen["stream_options"])
}

func TestBuildParams_JSONSchemaWithoutTools(t *testing.T) {
	m := NewModelFromClient(nil)

	params := m.buildParams(model.Request{
		JSONSchema: map[string]any{"type": "object"},
		SchemaName: "forecast",
		Tools:      []model.ToolDefinition{{Name: "add"}},
		ToolChoice: model.ToolChoiceNone,
	}, nil)

	require.NotNil(t, params.ResponseFormat.OfJSONSchema)
	assert.Equal(t, "forecast", params.ResponseFormat.OfJSONSchema.JSONSchema.Name)
	assert.Empty(t, params.Tools)
}

func TestBuildMessages(t *testing.T) {
	conv := testutil.NewConversationBuilder().
		System("sys").
		User("question").
		ToolCall("c1", "add", `{"a":1}`).
		ToolResult("c1", "add", 1, nil).
		Build()
	conv.AddAssistant("", core.NewMessageCall("plain reply"))

	msgs := buildMessages(conv)
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "add", msgs[2].OfAssistant.ToolCalls[0].Function.Name)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	require.NotNil(t, msgs[4].OfAssistant)
	assert.Equal(t, "plain reply", msgs[4].OfAssistant.Content.OfString.Value)
}
