package llm

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/testutil"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/retry"
	"github.com/hupe1980/toolmesh/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newCatalog(t *testing.T) *tool.Catalog {
	t.Helper()

	cat := tool.NewCatalog()
	require.NoError(t, cat.Register(tool.NewFunctionTool(
		"Echo", "Echo a message",
		[]tool.Param{tool.String("message", "text to echo")},
		func(_ context.Context, args []any) (any, error) { return args[0], nil },
	), "text"))
	require.NoError(t, cat.Register(tool.NewFunctionTool(
		"add", "Add two integers",
		[]tool.Param{tool.Integer("a", "left"), tool.Integer("b", "right")},
		func(_ context.Context, args []any) (any, error) { return args[0].(int) + args[1].(int), nil },
	), "math"))
	return cat
}

func newClient(t *testing.T, m model.Model, optFns ...func(o *Options)) *Client {
	t.Helper()

	fns := append([]func(o *Options){func(o *Options) {
		o.Retry.MaxRetries = 2
		o.Retry.InitialDelay = time.Millisecond
		o.Retry.MaxDelay = 2 * time.Millisecond
		o.Retry.Timeout = time.Second
	}}, optFns...)
	return New(m, newCatalog(t), fns...)
}

func userConv(text string) *core.Conversation {
	return testutil.NewConversationBuilder().User(text).Build()
}

func TestComplete_Text(t *testing.T) {
	m := model.NewMockModel("mock", model.TextTurn("Hello", " there"))
	c := newClient(t, m)

	res, err := c.Complete(context.Background(), userConv("hi"))
	require.NoError(t, err)

	assert.Equal(t, "Hello there", res.Text)
	assert.Equal(t, "Hello there", res.Message)
	assert.Equal(t, core.FinishStop, res.FinishReason)
	assert.Empty(t, res.ToolCalls)
	assert.True(t, res.Usage.Estimated)
	assert.Equal(t, 3, res.Usage.OutputTokens)
	assert.Equal(t, res.Usage, c.Usage())

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Tools, 2)
	assert.Equal(t, model.ToolChoiceAuto, reqs[0].ToolChoice)
}

func TestComplete_ProviderUsage(t *testing.T) {
	m := model.NewMockModel("mock", model.Turn{Chunks: []core.StreamChunk{
		core.TextChunk("ok"),
		core.UsageChunk(core.Usage{InputTokens: 10, OutputTokens: 5}),
		core.FinishChunk(core.FinishStop),
	}})
	c := newClient(t, m)

	res, err := c.Complete(context.Background(), userConv("hi"))
	require.NoError(t, err)
	assert.Equal(t, core.Usage{InputTokens: 10, OutputTokens: 5}, res.Usage)
}

func TestStream_InlineCall(t *testing.T) {
	m := model.NewMockModel("mock", model.TextTurn(`Sure <tool_call>{"name":"Echo","arguments":{"message":"hi"}}</tool_call>`))
	c := newClient(t, m)

	d := testutil.Drain(c.Stream(context.Background(), userConv("echo hi")))
	require.NoError(t, d.Err)
	require.Len(t, d.ToolCalls, 1)
	assert.Equal(t, "Echo", d.ToolCalls[0].Name)
	assert.Equal(t, []any{"hi"}, d.ToolCalls[0].Parameters)

	kinds := make([]core.ChunkKind, len(d.Chunks))
	for i, ch := range d.Chunks {
		kinds[i] = ch.Kind
	}
	assert.Equal(t, []core.ChunkKind{core.ChunkText, core.ChunkToolCall, core.ChunkUsage, core.ChunkFinish}, kinds)
	assert.Equal(t, core.FinishToolCalls, d.Chunks[3].FinishReason)
}

func TestComplete_InlineCallAcrossFragments(t *testing.T) {
	m := model.NewMockModel("mock", model.TextTurn(`Let me check. {"name":"Echo",`, `"arguments":{"message":"hi"}`, `}`))
	c := newClient(t, m)

	res, err := c.Complete(context.Background(), userConv("echo"))
	require.NoError(t, err)

	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Echo", res.ToolCalls[0].Name)
	assert.Equal(t, "Let me check.", res.Message)
}

func TestComplete_MessageOnlyReply(t *testing.T) {
	m := model.NewMockModel("mock", model.TextTurn(`{"message":"just a reply"}`))
	c := newClient(t, m)

	res, err := c.Complete(context.Background(), userConv("hi"))
	require.NoError(t, err)

	assert.False(t, res.HasInvocations())
	assert.Equal(t, "just a reply", res.Message)
	assert.Equal(t, core.FinishStop, res.FinishReason)
}

func TestComplete_UnknownInlineToolRetries(t *testing.T) {
	m := model.NewMockModel("mock",
		model.TextTurn(`Let me check. {"name":"weather","arguments":{"city":"Paris"}}`),
		model.TextTurn(`{"name":"Echo","arguments":{"message":"Paris"}}`),
	)
	c := newClient(t, m)
	conv := userConv("weather?")

	res, err := c.Complete(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Retries)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Echo", res.ToolCalls[0].Name)
	assert.False(t, conv.HasTemporary())
	assert.Equal(t, 1, conv.Len())

	second := m.Requests()[1].Conversation
	last := second.Messages()[second.Len()-1]
	assert.Equal(t, core.RoleSystem, last.Role)
	assert.True(t, last.Temporary)
	assert.Contains(t, last.Content, `unknown tool "weather"`)
	assert.Contains(t, last.Content, "Echo, add")
}

func TestComplete_UnknownNativeToolRetries(t *testing.T) {
	m := model.NewMockModel("mock",
		model.ToolTurn(testutil.Call("c1", "nope", `{}`)),
		model.TextTurn("I have no such tool."),
	)
	var events []retry.Event
	c := newClient(t, m, func(o *Options) {
		o.OnRetry = func(e retry.Event) { events = append(events, e) }
	})
	conv := userConv("go")

	res, err := c.Complete(context.Background(), conv)
	require.NoError(t, err)
	assert.Empty(t, res.ToolCalls)
	assert.Equal(t, "I have no such tool.", res.Message)
	assert.False(t, conv.HasTemporary())
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Signal.Correction, `unknown tool "nope"`)
	assert.Equal(t, 2, m.Calls())
}

func TestComplete_ValidationErrorRetries(t *testing.T) {
	m := model.NewMockModel("mock",
		model.TextTurn(`{"name":"add","arguments":{"a":"x","b":1}}`),
		model.TextTurn(`{"name":"add","arguments":{"a":1,"b":1}}`),
	)
	c := newClient(t, m)

	res, err := c.Complete(context.Background(), userConv("add"))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Retries)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, []any{1, 1}, res.ToolCalls[0].Parameters)

	second := m.Requests()[1].Conversation
	last := second.Messages()[second.Len()-1]
	assert.True(t, last.Temporary)
	assert.Contains(t, last.Content, "invalid argument 'a' for tool add")
}

func TestComplete_DuplicateCallRetriesWithPreviousResult(t *testing.T) {
	conv := testutil.NewConversationBuilder().
		User("echo hi").
		ToolCall("c1", "Echo", `{"message":"hi"}`).
		ToolResult("c1", "Echo", "hi", nil).
		Build()

	m := model.NewMockModel("mock",
		model.ToolTurn(testutil.Call("c2", "echo", `{ "message" : "hi" }`)),
		model.TextTurn("The tool said hi."),
	)

	var events []retry.Event
	c := newClient(t, m, func(o *Options) {
		o.OnRetry = func(e retry.Event) { events = append(events, e) }
	})

	res, err := c.Complete(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "The tool said hi.", res.Message)
	assert.Empty(t, res.ToolCalls)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Signal.Previous)
	assert.Equal(t, "hi", events[0].Signal.Previous.Value)
	assert.Equal(t, "c1", events[0].Signal.Previous.Call.ID)
	assert.Contains(t, events[0].Signal.Correction, "You already called Echo")
}

func TestComplete_RepeatedTextRetries(t *testing.T) {
	conv := testutil.NewConversationBuilder().User("q").Assistant("same answer").User("again").Build()
	m := model.NewMockModel("mock", model.TextTurn("same answer"), model.TextTurn("new answer"))
	c := newClient(t, m)

	res, err := c.Complete(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, "new answer", res.Text)
	assert.Equal(t, 1, res.Retries)
}

func TestComplete_OneToolOnly(t *testing.T) {
	m := model.NewMockModel("mock", model.ToolTurn(
		testutil.Call("c1", "Echo", `{"message":"a"}`),
		testutil.Call("c2", "add", `{"a":1,"b":2}`),
	))
	c := newClient(t, m, func(o *Options) { o.OneToolOnly = true })

	res, err := c.Complete(context.Background(), userConv("go"))
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "c1", res.ToolCalls[0].ID)
	assert.Equal(t, core.FinishToolCalls, res.FinishReason)
}

func TestComplete_RetryExhausted(t *testing.T) {
	bad := model.TextTurn(`{"name":"add","arguments":{}}`)
	m := model.NewMockModel("mock", bad, bad, bad)
	c := newClient(t, m)

	_, err := c.Complete(context.Background(), userConv("add"))
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 3, m.Calls())
}

func TestComplete_StrictMalformedRetries(t *testing.T) {
	m := model.NewMockModel("mock",
		model.TextTurn(`{"arguments":{"message":"x"}}`),
		model.TextTurn("plain answer"),
	)
	c := newClient(t, m, func(o *Options) { o.Strict = true })

	res, err := c.Complete(context.Background(), userConv("go"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, "plain answer", res.Message)
}

func TestComplete_IncompleteStream(t *testing.T) {
	m := model.NewMockModel("mock", model.Turn{Chunks: []core.StreamChunk{core.TextChunk("cut")}})
	c := newClient(t, m)

	_, err := c.Complete(context.Background(), userConv("go"))
	require.ErrorIs(t, err, ErrIncompleteStream)
	assert.Equal(t, 1, m.Calls())
}

func TestComplete_ToolTags(t *testing.T) {
	m := model.NewMockModel("mock", model.TextTurn("ok"))
	c := newClient(t, m)

	_, err := c.Complete(context.Background(), userConv("go"), func(o *CallOptions) { o.Tags = []string{"math"} })
	require.NoError(t, err)

	tools := m.Requests()[0].Tools
	require.Len(t, tools, 1)
	assert.Equal(t, "add", tools[0].Name)
}

func TestCommit(t *testing.T) {
	conv := testutil.NewConversationBuilder().User("go").Correction("be brief").Build()
	c := newClient(t, model.NewMockModel("mock"))

	res := &Result{Message: "calling", ToolCalls: []core.ToolCall{
		testutil.Call("c1", "Echo", `{"message":"x"}`),
		core.NewMessageCall("aside"),
	}}
	c.Commit(conv, res)

	assert.Same(t, conv, res.Conversation)
	assert.False(t, conv.HasTemporary())
	last, ok := conv.Last(core.RoleAssistant)
	require.True(t, ok)
	assert.Equal(t, "calling", last.Content)
	require.Len(t, last.ToolCalls, 1)
	assert.Equal(t, "Echo", last.ToolCalls[0].Name)
}

type forecast struct {
	City string  `json:"city" description:"City name"`
	Temp float64 `json:"temp"`
}

func TestStructured(t *testing.T) {
	m := model.NewMockModel("mock",
		model.TextTurn("not json"),
		model.TextTurn(`{"city": 5}`),
		model.TextTurn("Here you go:\n```json\n{\"city\":\"Berlin\",\"temp\":21.5}\n```"),
	)
	c := newClient(t, m)

	res, err := Structured[forecast](context.Background(), c, userConv("weather"))
	require.NoError(t, err)

	assert.Equal(t, forecast{City: "Berlin", Temp: 21.5}, res.Value)
	assert.Equal(t, 2, res.Retries)
	assert.JSONEq(t, `{"city":"Berlin","temp":21.5}`, res.Raw)

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	assert.NotNil(t, reqs[0].JSONSchema)
	assert.Equal(t, "forecast", reqs[0].SchemaName)
	assert.Empty(t, reqs[0].Tools)
	assert.Equal(t, model.ToolChoiceNone, reqs[0].ToolChoice)

	second := reqs[2].Conversation
	last := second.Messages()[second.Len()-1]
	assert.Contains(t, last.Content, "does not match the schema")
}

func TestStructured_Exhausted(t *testing.T) {
	m := model.NewMockModel("mock", model.TextTurn("no"), model.TextTurn("no"), model.TextTurn("no"))
	c := newClient(t, m)

	_, err := Structured[forecast](context.Background(), c, userConv("weather"))
	require.ErrorIs(t, err, ErrRetryExhausted)
}

func TestSchemaCache_Concurrent(t *testing.T) {
	cache := NewSchemaCache()
	typ := reflect.TypeFor[forecast]()

	var wg sync.WaitGroup
	got := make([]*Schema, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := cache.For(typ)
			assert.NoError(t, err)
			got[i] = s
		}()
	}
	wg.Wait()

	for _, s := range got[1:] {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, []string{"city", "temp"}, got[0].Definition["required"])
}

func TestExtractJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                     `{"a":1}`,
		"```json\n{\"a\":1}\n```":     `{"a":1}`,
		"```{\"a\":1}```":             `{"a":1}`,
		`Result: {"a":1} hope it helps`: `{"a":1}`,
		`[1,2]`:                       `[1,2]`,
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractJSON(in), in)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("äöü"))
}
