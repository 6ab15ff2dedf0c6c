package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/util"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/parser"
	"github.com/hupe1980/toolmesh/retry"
	"github.com/hupe1980/toolmesh/tool"
)

var (
	// ErrRetryExhausted is returned when no attempt produced a complete response.
	ErrRetryExhausted = errors.New("llm: retries exhausted without a complete response")
	// ErrIncompleteStream is returned when the provider closed its stream without a finish reason.
	ErrIncompleteStream = errors.New("llm: model stream ended without a finish reason")
)

var retryMarker = regexp.MustCompile(`^\[retry \d+\]$`)

// Options configure a Client.
type Options struct {
	Retry retry.Config
	// Strict turns malformed inline calls into retries instead of ignoring them.
	Strict bool
	// OneToolOnly stops accepting tool calls after the first one of a turn.
	OneToolOnly bool
	Logger      logging.Logger
	Tokenizer   Tokenizer
	// Usage aggregates token usage across every call of this client. It may be
	// shared between clients.
	Usage       *core.UsageTracker
	SchemaCache *SchemaCache
	OnRetry     func(retry.Event)
}

// CallOptions adjust a single request.
type CallOptions struct {
	ToolChoice  model.ToolChoice
	Tags        []string // restrict the offered tools; empty offers all
	OneToolOnly bool
	Temperature *float64
	MaxTokens   int
}

// Client is the entry point for asking a model for text, tool calls or typed
// JSON. It combines the provider stream, inline call extraction and the retry
// policy.
//
// A Client is safe for concurrent use. A Conversation passed to it must not be
// touched by anyone else while a call is in flight.
type Client struct {
	model   model.Model
	catalog *tool.Catalog
	parser  *parser.Parser
	policy  *retry.Policy
	opts    Options
}

// New creates a Client. catalog may be nil for a client without tools.
func New(m model.Model, catalog *tool.Catalog, optFns ...func(o *Options)) *Client {
	opts := Options{
		Retry:     retry.DefaultConfig(),
		Logger:    logging.NoOpLogger{},
		Tokenizer: EstimateTokens,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = EstimateTokens
	}
	if opts.Usage == nil {
		opts.Usage = core.NewUsageTracker()
	}
	if opts.SchemaCache == nil {
		opts.SchemaCache = NewSchemaCache()
	}
	if catalog == nil {
		catalog = tool.NewCatalog()
	}

	return &Client{
		model:   m,
		catalog: catalog,
		parser:  parser.New(catalog, func(o *parser.Options) { o.Logger = opts.Logger }),
		policy: retry.New(opts.Retry, func(o *retry.Options) {
			o.Logger = opts.Logger
			o.OnRetry = opts.OnRetry
		}),
		opts: opts,
	}
}

// Catalog returns the tool catalog offered to the model.
func (c *Client) Catalog() *tool.Catalog { return c.catalog }

// Model returns the underlying provider.
func (c *Client) Model() model.Model { return c.model }

// Usage returns the aggregated token usage of every completed call.
func (c *Client) Usage() core.Usage { return c.opts.Usage.Snapshot() }

// Result is a completed text or tool-call turn.
type Result struct {
	// Text is the raw text of the successful attempt.
	Text string
	// Message is the reply without inline call markup.
	Message      string
	ToolCalls    []core.ToolCall
	Usage        core.Usage
	FinishReason string
	Retries      int
	// Conversation is the conversation the turn was committed to, set by
	// Commit. Tool results for this turn belong there.
	Conversation *core.Conversation
}

// Invocations returns the calls that name a tool.
func (r *Result) Invocations() []core.ToolCall {
	var out []core.ToolCall
	for _, tc := range r.ToolCalls {
		if tc.IsInvocation() {
			out = append(out, tc)
		}
	}
	return out
}

// HasInvocations reports whether the turn requested any tool.
func (r *Result) HasInvocations() bool { return len(r.Invocations()) > 0 }

// Stream asks the model to continue conv. Text is forwarded as it arrives;
// calls found inline or delivered natively are emitted as ToolCall chunks.
// A successful stream ends with a Usage and a Finish chunk.
func (c *Client) Stream(ctx context.Context, conv *core.Conversation, optFns ...func(o *CallOptions)) (<-chan core.StreamChunk, <-chan error) {
	co := c.callOptions(optFns)
	req := c.request(conv, co, nil)
	t := turn{conv: conv, oneToolOnly: co.OneToolOnly, extract: true}

	return c.policy.ExecuteStream(ctx, req, func(actx context.Context, r *model.Request) (<-chan core.StreamChunk, <-chan error) {
		return c.attempt(actx, r, t)
	})
}

// Complete runs Stream to the end and collects the result.
func (c *Client) Complete(ctx context.Context, conv *core.Conversation, optFns ...func(o *CallOptions)) (*Result, error) {
	res, err := c.collect(c.Stream(ctx, conv, optFns...))
	if err != nil {
		return nil, err
	}
	res.Message = c.reply(res)
	return res, nil
}

// Commit records the assistant turn of res in conv, which also drops any
// pending corrections, and remembers conv on res.
func (c *Client) Commit(conv *core.Conversation, res *Result) {
	conv.AddAssistant(res.Message, res.Invocations()...)
	res.Conversation = conv
}

func (c *Client) callOptions(optFns []func(o *CallOptions)) CallOptions {
	co := CallOptions{ToolChoice: model.ToolChoiceAuto, OneToolOnly: c.opts.OneToolOnly}
	for _, fn := range optFns {
		fn(&co)
	}
	return co
}

func (c *Client) request(conv *core.Conversation, co CallOptions, schema *Schema) *model.Request {
	if conv == nil {
		conv = core.NewConversation()
	}
	req := &model.Request{
		Conversation: conv,
		ToolChoice:   co.ToolChoice,
		Temperature:  co.Temperature,
		MaxTokens:    co.MaxTokens,
	}
	if schema != nil {
		req.JSONSchema = schema.Definition
		req.SchemaName = schema.Name
		req.ToolChoice = model.ToolChoiceNone
		return req
	}
	req.Tools = c.toolDefinitions(co)
	return req
}

func (c *Client) toolDefinitions(co CallOptions) []model.ToolDefinition {
	if co.ToolChoice == model.ToolChoiceNone || c.catalog.Len() == 0 {
		return nil
	}
	if len(co.Tags) == 0 {
		return c.catalog.Definitions()
	}

	seen := map[string]bool{}
	var tools []tool.Tool
	for _, tag := range co.Tags {
		for _, t := range c.catalog.ByTag(tag) {
			if !seen[t.Name()] {
				seen[t.Name()] = true
				tools = append(tools, t)
			}
		}
	}
	return tool.Definitions(tools)
}

// turn holds what one attempt needs to know about the caller.
type turn struct {
	conv        *core.Conversation
	oneToolOnly bool
	extract     bool
	// finalize checks the complete text; a *retry.Signal asks for another attempt.
	finalize func(text string) error
}

type turnState struct {
	text     strings.Builder
	seen     map[int]bool
	accepted int
	usage    *core.Usage
	finish   string
}

func (c *Client) attempt(ctx context.Context, req *model.Request, t turn) (<-chan core.StreamChunk, <-chan error) {
	out := make(chan core.StreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if err := c.runTurn(ctx, req, t, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (c *Client) runTurn(ctx context.Context, req *model.Request, t turn, out chan<- core.StreamChunk) error {
	start := time.Now()
	name := c.model.Info().Name
	st := &turnState{seen: map[int]bool{}}

	chunks, errs := c.model.Generate(ctx, *req)

	var genErr error
	for chunks != nil || errs != nil {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := c.handleChunk(ctx, ch, t, st, out); err != nil {
				go drain(chunks, errs)
				c.logTurn(name, st, start, err)
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && genErr == nil {
				genErr = err
			}
		}
	}
	if genErr != nil {
		c.logTurn(name, st, start, genErr)
		return genErr
	}

	if err := c.finishTurn(ctx, req, t, st, out); err != nil {
		c.logTurn(name, st, start, err)
		return err
	}
	c.logTurn(name, st, start, nil)
	return nil
}

func (c *Client) handleChunk(ctx context.Context, ch core.StreamChunk, t turn, st *turnState, out chan<- core.StreamChunk) error {
	switch ch.Kind {
	case core.ChunkText:
		st.text.WriteString(ch.Text)
		if err := send(ctx, out, ch); err != nil {
			return err
		}
		if t.extract && strings.Contains(ch.Text, "}") {
			return c.extractInline(ctx, t, st, out, false)
		}
	case core.ChunkToolCall:
		if !ch.ToolCall.IsInvocation() {
			if ch.ToolCall.Valid() {
				return send(ctx, out, ch)
			}
			return nil
		}
		call, err := c.parser.ParseNative(ch.ToolCall.Name, ch.ToolCall.Arguments, ch.ToolCall.ID)
		if err != nil {
			return c.reject(err)
		}
		call.Message = ch.ToolCall.Message
		return c.accept(ctx, t, st, call, out)
	case core.ChunkUsage:
		u := ch.Usage
		st.usage = &u
	case core.ChunkFinish:
		st.finish = ch.FinishReason
	}
	return nil
}

// extractInline re-parses the accumulated text and handles calls that were
// not seen before. Unless final, items that may still be nested inside an
// unfinished object are left for later.
func (c *Client) extractInline(ctx context.Context, t turn, st *turnState, out chan<- core.StreamChunk, final bool) error {
	res := c.parser.Parse(st.text.String())
	for _, item := range res.Items {
		if st.seen[item.Start] {
			continue
		}
		if !final && res.Pending >= 0 && item.Start > res.Pending {
			continue
		}
		st.seen[item.Start] = true

		if item.Err != nil {
			if err := c.reject(item.Err); err != nil {
				return err
			}
			continue
		}
		if err := c.accept(ctx, t, st, item.Call, out); err != nil {
			return err
		}
	}
	return nil
}

// reject decides what a call that failed to parse means for the turn. It
// never touches the caller's conversation; corrections travel as Signals.
func (c *Client) reject(err error) error {
	var (
		perr  *parser.ParseError
		verrs *tool.ValidationErrors
	)
	switch {
	case errors.As(err, &perr) && errors.Is(err, parser.ErrUnknownTool):
		c.opts.Logger.Warn("llm.tool.unknown", "tool", perr.Tool)
		return &retry.Signal{
			Correction: perr.Error() + ". Call one of the available tools or answer directly.",
			Cause:      err,
		}
	case errors.As(err, &verrs):
		return &retry.Signal{
			Correction: err.Error() + "\nFix the arguments and call the tool again.",
			Cause:      err,
		}
	case errors.Is(err, parser.ErrMalformedCall):
		if !c.opts.Strict {
			c.opts.Logger.Debug("llm.tool.malformed", "error", err.Error())
			return nil
		}
		return &retry.Signal{
			Correction: err.Error() + `. Write tool calls as {"name": "<tool>", "arguments": {...}}.`,
			Cause:      err,
		}
	default:
		return err
	}
}

func (c *Client) accept(ctx context.Context, t turn, st *turnState, call core.ToolCall, out chan<- core.StreamChunk) error {
	if call.IsInvocation() {
		if t.oneToolOnly && st.accepted > 0 {
			c.opts.Logger.Debug("llm.tool.dropped", "tool", call.Name, "reason", "one tool only")
			return nil
		}
		if sig := duplicate(t.conv, call); sig != nil {
			c.opts.Logger.Info("llm.tool.duplicate", "tool", call.Name)
			return sig
		}
		st.accepted++
	}
	return send(ctx, out, core.ToolCallChunk(call))
}

// duplicate returns a Signal when conv already holds the answer to call.
func duplicate(conv *core.Conversation, call core.ToolCall) *retry.Signal {
	if conv == nil {
		return nil
	}
	key := canonicalArgs(call.Arguments)
	prev, answer, ok := conv.FindCall(call.Name, key, canonicalArgs)
	if !ok || answer == nil {
		return nil
	}
	previous := core.ToolCallResult{Call: prev, Value: answer.Content}
	return &retry.Signal{
		Correction: fmt.Sprintf(
			"You already called %s and received: %s\nUse this result instead of repeating the call.",
			prev.String(), answer.Content,
		),
		Previous: &previous,
	}
}

func canonicalArgs(raw json.RawMessage) string { return util.CanonicalJSON(raw) }

func (c *Client) finishTurn(ctx context.Context, req *model.Request, t turn, st *turnState, out chan<- core.StreamChunk) error {
	if t.extract {
		if err := c.extractInline(ctx, t, st, out, true); err != nil {
			return err
		}
	}
	if st.finish == "" {
		return ErrIncompleteStream
	}

	text := st.text.String()
	if t.finalize != nil {
		if err := t.finalize(text); err != nil {
			return err
		}
	}
	if t.extract && st.accepted == 0 && repeated(t.conv, text) {
		return retry.NewSignal("You repeated your previous answer word for word. Make progress: call a tool or give a different, final answer.")
	}

	if st.usage == nil || st.usage.Total() == 0 {
		st.usage = &core.Usage{
			InputTokens:  c.opts.Tokenizer(req.Conversation.ToTranscript(true)),
			OutputTokens: c.opts.Tokenizer(text),
			Estimated:    true,
		}
	}
	c.opts.Usage.Add(*st.usage)
	if err := send(ctx, out, core.UsageChunk(*st.usage)); err != nil {
		return err
	}

	finish := st.finish
	if st.accepted > 0 && finish == core.FinishStop {
		finish = core.FinishToolCalls
	}
	return send(ctx, out, core.FinishChunk(finish))
}

func repeated(conv *core.Conversation, text string) bool {
	text = strings.TrimSpace(text)
	if conv == nil || text == "" {
		return false
	}
	last, ok := conv.Last(core.RoleAssistant)
	return ok && strings.TrimSpace(last.Content) == text
}

func (c *Client) logTurn(name string, st *turnState, start time.Time, err error) {
	tokens, estimated := 0, false
	if st.usage != nil {
		tokens, estimated = st.usage.Total(), st.usage.Estimated
	}
	if retry.IsRetryable(err) {
		c.opts.Logger.Debug("llm.call.retryable", "model", name, "reason", err.Error())
		return
	}
	logging.LogLLMCall(c.opts.Logger, name, tokens, estimated, time.Since(start), err)
}

// collect drains a client stream. Output of abandoned attempts is discarded
// at every retry marker.
func (c *Client) collect(chunks <-chan core.StreamChunk, errs <-chan error) (*Result, error) {
	res := &Result{}
	var (
		text     strings.Builder
		finished bool
		firstErr error
	)

	for chunks != nil || errs != nil {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			switch ch.Kind {
			case core.ChunkText:
				if retryMarker.MatchString(ch.Text) {
					text.Reset()
					res.ToolCalls = nil
					res.Retries++
					continue
				}
				text.WriteString(ch.Text)
			case core.ChunkToolCall:
				res.ToolCalls = append(res.ToolCalls, ch.ToolCall)
			case core.ChunkUsage:
				res.Usage = ch.Usage
			case core.ChunkFinish:
				finished = true
				res.FinishReason = ch.FinishReason
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if !finished {
		return nil, ErrRetryExhausted
	}
	res.Text = text.String()
	return res, nil
}

// reply strips inline call markup from the text and folds in message-only calls.
func (c *Client) reply(res *Result) string {
	parts := []string{c.parser.Parse(res.Text).Message}
	for _, tc := range res.ToolCalls {
		if !tc.IsInvocation() {
			parts = append(parts, tc.Message)
		}
	}

	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func send(ctx context.Context, out chan<- core.StreamChunk, c core.StreamChunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- c:
		return nil
	}
}

func drain(chunks <-chan core.StreamChunk, errs <-chan error) {
	for chunks != nil || errs != nil {
		select {
		case _, ok := <-chunks:
			if !ok {
				chunks = nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}
