// Package anthropic provides a model wrapper for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{
		client: client,
		opts:   defaultOptions(optFns),
	}
}

// Generate implements model.Model by streaming the Messages API. Text deltas
// are forwarded immediately; tool_use blocks, usage and the stop reason are
// emitted from the accumulated message once the stream ends.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params, err := m.buildParams(req)
		if err != nil {
			errCh <- err
			return
		}

		if err := m.stream(ctx, params, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) (anthropic.MessageNewParams, error) {
	system, messages := buildMessages(req.Conversation)

	if req.JSONSchema != nil {
		schema, err := json.Marshal(req.JSONSchema)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("encode response schema: %w", err)
		}
		system = append(system, anthropic.TextBlockParam{
			Text: "Respond only with a JSON document that validates against this JSON schema:\n" + string(schema),
		})
	}

	temperature := m.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := m.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}

	if len(system) > 0 {
		params.System = system
	}

	if len(req.Tools) > 0 && req.ToolChoice != model.ToolChoiceNone {
		tools, err := buildTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
		if req.ToolChoice == model.ToolChoiceRequired {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		}
	}

	return params, nil
}

func (m *Model) stream(ctx context.Context, params anthropic.MessageNewParams, out chan<- core.StreamChunk) error {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		final anthropic.Message
		usage core.Usage
	)

	for stream.Next() {
		event := stream.Current()
		if err := final.Accumulate(event); err != nil {
			return fmt.Errorf("accumulate stream: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if text := ev.Delta.AsTextDelta().Text; text != "" {
				if err := send(ctx, out, core.TextChunk(text)); err != nil {
					return err
				}
			}
		case anthropic.MessageDeltaEvent:
			usage.InputTokens = int(ev.Usage.InputTokens)
			usage.OutputTokens = int(ev.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic streaming error: %w", err)
	}

	for _, block := range final.Content {
		if block.Type != "tool_use" {
			continue
		}
		args := json.RawMessage(block.Input)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		tc := core.ToolCall{ID: block.ID, Name: block.Name, Arguments: args}
		if err := send(ctx, out, core.ToolCallChunk(tc)); err != nil {
			return err
		}
	}

	if final.Usage.InputTokens > 0 {
		usage.InputTokens = int(final.Usage.InputTokens)
	}
	if final.Usage.OutputTokens > 0 {
		usage.OutputTokens = int(final.Usage.OutputTokens)
	}
	if usage.Total() > 0 {
		if err := send(ctx, out, core.UsageChunk(usage)); err != nil {
			return err
		}
	}

	return send(ctx, out, core.FinishChunk(finishReason(final.StopReason)))
}

func finishReason(r anthropic.StopReason) string {
	switch r {
	case "tool_use":
		return core.FinishToolCalls
	case "max_tokens":
		return core.FinishLength
	case "":
		return core.FinishStop
	case "end_turn", "stop_sequence":
		return core.FinishStop
	default:
		return string(r)
	}
}

// buildMessages converts a conversation to Anthropic format. System messages
// become system blocks; consecutive tool results are merged into one user turn.
func buildMessages(conv *core.Conversation) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system   []anthropic.TextBlockParam
		messages []anthropic.MessageParam
		results  []anthropic.ContentBlockParamUnion
	)

	flushResults := func() {
		if len(results) > 0 {
			messages = append(messages, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	if conv == nil {
		return nil, []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("."))}
	}

	for _, msg := range conv.Messages() {
		switch msg.Role {
		case core.RoleSystem:
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case core.RoleTool:
			if msg.ToolCallID == "" {
				flushResults()
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf("Result of %s: %s", msg.Name, msg.Content))))
				continue
			}
			isError := strings.HasPrefix(msg.Content, "Error: ")
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isError))
		case core.RoleAssistant:
			flushResults()
			if content := buildAssistantContent(msg); len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		default:
			flushResults()
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flushResults()

	if len(messages) == 0 {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(".")))
	}

	return system, messages
}

func buildAssistantContent(msg core.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	if msg.Content != "" {
		content = append(content, anthropic.NewTextBlock(msg.Content))
	}

	for _, tc := range msg.ToolCalls {
		if !tc.IsInvocation() {
			if msg.Content == "" && tc.Message != "" {
				content = append(content, anthropic.NewTextBlock(tc.Message))
			}
			continue
		}
		var input any = map[string]any{}
		if len(tc.Arguments) > 0 {
			if err := json.Unmarshal(tc.Arguments, &input); err != nil {
				input = map[string]any{"raw": string(tc.Arguments)}
			}
		}
		content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
	}

	return content
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(tools []model.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, def := range tools {
		schema, err := encodeSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", def.Name, err)
		}

		tool := anthropic.ToolParam{
			Name:        def.Name,
			InputSchema: schema,
		}
		if def.Description != "" {
			tool.Description = anthropic.String(def.Description)
		}

		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}

	return out, nil
}

func encodeSchema(raw map[string]any) (anthropic.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return anthropic.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return anthropic.ToolInputSchemaParam{}, err
	}
	var schema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropic.ToolInputSchemaParam{}, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func send(ctx context.Context, out chan<- core.StreamChunk, c core.StreamChunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- c:
		return nil
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
