package parser

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/tool"
)

// Options configure a Parser.
type Options struct {
	// Strict turns recognized but unusable call attempts into diagnostic
	// message-only calls instead of skipping them.
	Strict bool
	Logger logging.Logger
}

// Parser extracts tool calls embedded in model text and binds them against a catalog.
type Parser struct {
	catalog *tool.Catalog
	opts    Options
}

// New creates a parser over catalog.
func New(catalog *tool.Catalog, optFns ...func(o *Options)) *Parser {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Parser{catalog: catalog, opts: opts}
}

// Item is one recognized call attempt and where it sits in the text.
// Err is set when the attempt could not be bound; Call is then only
// meaningful in strict mode, where it carries the diagnostic.
type Item struct {
	Start, End int
	Call       core.ToolCall
	Err        error
}

// Result is the outcome of parsing a block of text.
type Result struct {
	// Message is the text before the first recognized call, or the whole
	// text when nothing was recognized.
	Message string
	Calls   []core.ToolCall
	Errors  []error
	Items   []Item
	// Pending is the offset of an object that is still open, or -1. Items
	// starting after it may turn out to be nested once the text grows.
	Pending int
}

// HasInvocations reports whether any call names a tool.
func (r *Result) HasInvocations() bool {
	for _, c := range r.Calls {
		if c.IsInvocation() {
			return true
		}
	}
	return false
}

// Parse scans text for tool calls.
func (p *Parser) Parse(text string) *Result {
	res := &Result{Pending: pendingObject(text)}

	matches := findMatches(text)
	if len(matches) == 0 {
		res.Message = strings.TrimSpace(text)
		return res
	}

	res.Message = fallback(text[:matches[0].full.start])

	for _, m := range matches {
		call, err := p.interpret(text, m)
		item := Item{Start: m.full.start, End: m.full.end, Call: call, Err: err}
		if err != nil {
			res.Errors = append(res.Errors, err)
			p.opts.Logger.Debug("parser.call.rejected", "family", m.family.String(), "offset", m.full.start, "error", err.Error())
			if !p.opts.Strict {
				res.Items = append(res.Items, item)
				continue
			}
			item.Call = diagnostic(err)
			call = item.Call
		}
		res.Items = append(res.Items, item)
		res.Calls = append(res.Calls, call)
	}

	return res
}

// ParseNative validates a call the provider returned through its native
// tool-calling channel.
func (p *Parser) ParseNative(name string, args json.RawMessage, id string) (core.ToolCall, error) {
	if id == "" {
		id = core.NewID()
	}
	call := core.ToolCall{ID: id, Name: strings.TrimSpace(name), Arguments: tool.NormalizeArguments(args)}
	return p.bind(call)
}

func (p *Parser) interpret(text string, m match) (core.ToolCall, error) {
	raw := text[m.obj.start:m.obj.end]
	if m.invalid != "" {
		return core.ToolCall{}, malformed(m.invalid, raw)
	}

	obj := gjson.Parse(raw)
	name := obj.Get("name")
	args := obj.Get("arguments")

	switch {
	case name.Exists():
		if name.Type != gjson.String || strings.TrimSpace(name.String()) == "" {
			return core.ToolCall{}, malformed("\"name\" must be a non-empty string", raw)
		}
		argRaw := "{}"
		if args.Exists() {
			argRaw = args.Raw
		}
		id := obj.Get("id").String()
		if id == "" {
			id = core.NewID()
		}
		call := core.ToolCall{
			ID:        id,
			Name:      strings.TrimSpace(name.String()),
			Arguments: tool.NormalizeArguments(json.RawMessage(argRaw)),
		}
		if msg := obj.Get("message"); msg.Type == gjson.String {
			call.Message = msg.String()
		}
		return p.bind(call)
	case args.Exists():
		return core.ToolCall{}, malformed("\"arguments\" given without a tool \"name\"", raw)
	case isMessageOnly(obj):
		return core.NewMessageCall(obj.Get("message").String()), nil
	default:
		return core.ToolCall{}, malformed("expected an object with \"name\" and \"arguments\"", raw)
	}
}

func (p *Parser) bind(call core.ToolCall) (core.ToolCall, error) {
	t, ok := p.catalog.Get(call.Name)
	if !ok {
		return call, unknownTool(call.Name, p.catalog.Names())
	}
	call.Name = t.Name()

	params, err := tool.Bind(t, call.Arguments)
	if err != nil {
		return call, err
	}
	call.Parameters = params
	return call, nil
}

func diagnostic(err error) core.ToolCall {
	return core.NewMessageCall("Error: " + err.Error())
}

// fallback trims the prose before the first call, dropping a dangling code
// fence opener.
func fallback(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "```"); i >= 0 && !strings.Contains(s[i+3:], "\n") {
		lang := strings.TrimSpace(s[i+3:])
		if lang == "" || !strings.ContainsAny(lang, " \t") {
			s = strings.TrimSpace(s[:i])
		}
	}
	return s
}
