// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (streaming, tool calling and JSON schema output). It
// adapts toolmesh conversations into the SDK's message format and streams the
// response back as core.StreamChunk values.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openai/openai-go"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete calls when the stream ends.
type aggCall struct {
	index          int64
	id, name, args string
}

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model. Text deltas are forwarded as they arrive;
// tool calls, usage and the finish reason are emitted once the stream ends.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := m.buildParams(req, buildMessages(req.Conversation))
		if err := m.stream(ctx, params, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// buildMessages converts a conversation into OpenAI chat messages.
func buildMessages(conv *core.Conversation) []openai.ChatCompletionMessageParamUnion {
	if conv == nil {
		return nil
	}
	msgs := conv.Messages()
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case core.RoleTool:
			if msg.ToolCallID == "" {
				messages = append(messages, openai.UserMessage(fmt.Sprintf("Result of %s: %s", msg.Name, msg.Content)))
				continue
			}
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case core.RoleAssistant:
			toolCalls := extractToolCalls(msg)
			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(assistantText(msg)))
				continue
			}
			asst := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if msg.Content != "" {
				asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		}
	}
	return messages
}

// assistantText falls back to message-only calls when the content is empty.
func assistantText(msg core.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	for _, tc := range msg.ToolCalls {
		if tc.Message != "" {
			return tc.Message
		}
	}
	return ""
}

// extractToolCalls converts invocations into OpenAI formatted tool calls.
func extractToolCalls(msg core.Message) []openai.ChatCompletionMessageToolCallParam {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, tc := range msg.ToolCalls {
		if !tc.IsInvocation() {
			continue
		}
		args := string(tc.Arguments)
		if args == "" {
			args = "{}"
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return toolCalls
}

// buildParams assembles the OpenAI request parameters including tool definitions
// and the structured output format.
func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	temperature := m.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := m.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	if req.JSONSchema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.JSONSchema,
					Strict: openai.Bool(false),
				},
			},
		}
	}

	if len(req.Tools) == 0 || req.ToolChoice == model.ToolChoiceNone {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools

	if req.ToolChoice != "" {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(req.ToolChoice)),
		}
	}
	return params
}

// stream drives the streaming completion and forwards chunks.
func (m *Model) stream(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- core.StreamChunk,
) error {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		finishReason string
		usage        *core.Usage
	)
	toolAgg := map[int64]*aggCall{}

	for stream.Next() {
		ck := stream.Current()
		if ck.Usage.PromptTokens > 0 || ck.Usage.CompletionTokens > 0 {
			usage = &core.Usage{
				InputTokens:  int(ck.Usage.PromptTokens),
				OutputTokens: int(ck.Usage.CompletionTokens),
			}
		}
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				if err := send(ctx, out, core.TextChunk(ch.Delta.Content)); err != nil {
					return err
				}
			}
			aggregateToolCalls(ch, toolAgg)
			if ch.FinishReason != "" {
				finishReason = string(ch.FinishReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai streaming error: %w", err)
	}

	for _, ac := range sortedCalls(toolAgg) {
		args := json.RawMessage(ac.args)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		tc := core.ToolCall{ID: ac.id, Name: ac.name, Arguments: args}
		if tc.ID == "" {
			tc.ID = core.NewID()
		}
		if err := send(ctx, out, core.ToolCallChunk(tc)); err != nil {
			return err
		}
	}
	if usage != nil {
		if err := send(ctx, out, core.UsageChunk(*usage)); err != nil {
			return err
		}
	}
	if finishReason == "" {
		return fmt.Errorf("openai stream ended without finish reason")
	}
	return send(ctx, out, core.FinishChunk(finishReason))
}

func aggregateToolCalls(ch openai.ChatCompletionChunkChoice, agg map[int64]*aggCall) {
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := agg[tc.Index]
		if !ok {
			ac = &aggCall{index: tc.Index}
			agg[tc.Index] = ac
		}
		if tc.ID != "" {
			ac.id = tc.ID
		}
		if tc.Function.Name != "" {
			ac.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			ac.args += tc.Function.Arguments
		}
	}
}

func sortedCalls(agg map[int64]*aggCall) []*aggCall {
	calls := make([]*aggCall, 0, len(agg))
	for _, ac := range agg {
		calls = append(calls, ac)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].index < calls[j].index })
	return calls
}

func send(ctx context.Context, out chan<- core.StreamChunk, c core.StreamChunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- c:
		return nil
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
