// Package toolmesh provides a high-level façade that wires configuration, a
// chat model, the tool catalog, the tool runtime and the LLM client into one
// value. Most applications interact with this package by:
//  1. Loading a config.Config and choosing a model (NewModel or any model.Model)
//  2. Creating a Toolmesh via New() and registering tools on its Catalog
//  3. Calling Run for a session, or composing their own pipelines from the
//     agent steps around Client and Runtime
package toolmesh

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/hupe1980/toolmesh/agent"
	"github.com/hupe1980/toolmesh/config"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/llm"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/model/anthropic"
	"github.com/hupe1980/toolmesh/model/openai"
	"github.com/hupe1980/toolmesh/pipeline"
	"github.com/hupe1980/toolmesh/session"
	"github.com/hupe1980/toolmesh/tool"
)

// ErrMaxRounds is returned by Run when the model kept requesting tools until
// the round limit.
var ErrMaxRounds = errors.New("toolmesh: tool loop reached max rounds without an answer")

// Options configures the Toolmesh instance.
type Options struct {
	// Catalog (defaults to an empty catalog)
	Catalog *tool.Catalog
	// SessionStore (defaults to an in-memory store)
	SessionStore session.Store
	// Logger (defaults to a logger built from the logging config section)
	Logger logging.Logger
	// Instruction is added as the system prompt of new sessions.
	Instruction *agent.Instruction
	// MaxRounds bounds the model calls of a Run.
	MaxRounds int
	// MaxCalls bounds the Ask steps of a Run. Zero means unlimited.
	MaxCalls int
}

// Toolmesh is the high-level façade aggregating client, runtime and sessions.
type Toolmesh struct {
	cfg     *config.Config
	opts    Options
	client  *llm.Client
	runtime *tool.Runtime
	loop    *pipeline.Pipeline
}

// New creates a Toolmesh over m. A nil cfg uses config.Default().
func New(cfg *config.Config, m model.Model, optFns ...func(o *Options)) *Toolmesh {
	if cfg == nil {
		cfg = config.Default()
	}

	opts := Options{MaxRounds: 10}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(cfg.LoggerConfig())
	}
	if opts.Catalog == nil {
		opts.Catalog = tool.NewCatalog(func(o *tool.CatalogOptions) { o.Logger = opts.Logger })
	}
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}

	client := llm.New(m, opts.Catalog, func(o *llm.Options) {
		o.Retry = cfg.RetryConfig()
		o.Strict = cfg.Client.Strict
		o.OneToolOnly = cfg.Client.OneToolOnly
		o.Logger = opts.Logger
	})

	rt := tool.NewRuntime(opts.Catalog, func(o *tool.RuntimeOptions) {
		o.MaxParallel = cfg.Runtime.MaxParallel
		o.Timeout = cfg.Runtime.Timeout
		o.Logger = opts.Logger
	})

	return &Toolmesh{
		cfg:     cfg,
		opts:    opts,
		client:  client,
		runtime: rt,
		loop:    agent.ToolLoop(client, rt, opts.MaxRounds),
	}
}

// NewModel builds the provider adapter selected by cfg.
func NewModel(cfg config.ProviderConfig) (model.Model, error) {
	switch cfg.Name {
	case "openai":
		var reqOpts []openaioption.RequestOption
		if cfg.APIKey != "" {
			reqOpts = append(reqOpts, openaioption.WithAPIKey(cfg.APIKey))
		}
		client := openaisdk.NewClient(reqOpts...)
		return openai.NewModelFromClient(&client, func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil
	case "anthropic":
		var reqOpts []anthropicoption.RequestOption
		if cfg.APIKey != "" {
			reqOpts = append(reqOpts, anthropicoption.WithAPIKey(cfg.APIKey))
		}
		client := anthropicsdk.NewClient(reqOpts...)
		return anthropic.NewModelFromClient(&client, func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// Config returns the configuration the instance was built from.
func (t *Toolmesh) Config() *config.Config { return t.cfg }

// Catalog returns the tool catalog offered to the model.
func (t *Toolmesh) Catalog() *tool.Catalog { return t.opts.Catalog }

// Client returns the LLM client.
func (t *Toolmesh) Client() *llm.Client { return t.client }

// Runtime returns the tool runtime.
func (t *Toolmesh) Runtime() *tool.Runtime { return t.runtime }

// Sessions returns the session store.
func (t *Toolmesh) Sessions() session.Store { return t.opts.SessionStore }

// Logger returns the configured logger.
func (t *Toolmesh) Logger() logging.Logger { return t.opts.Logger }

// Usage returns the token usage of every model call so far.
func (t *Toolmesh) Usage() core.Usage { return t.client.Usage() }

// Run appends input to the conversation of sessionID, runs the tool loop
// until the model answers, and saves the conversation. Unknown sessions
// start empty.
func (t *Toolmesh) Run(ctx context.Context, sessionID, input string) (*llm.Result, error) {
	conv, err := t.opts.SessionStore.Load(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		conv = core.NewConversation()
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}

	rc := core.NewRunContext(ctx, conv, t.opts.Logger)
	rc.Limiter = core.NewCallLimiter(t.opts.MaxCalls)
	rc.Set("session_id", sessionID)

	if conv.Len() == 0 && t.opts.Instruction != nil {
		text, err := t.opts.Instruction.Resolve(rc)
		if err != nil {
			return nil, err
		}
		conv.AddSystem(text)
	}
	conv.AddUser(input)

	res, runErr := pipeline.Invoke[*llm.Result](rc, t.loop, conv)

	if err := t.opts.SessionStore.Save(ctx, sessionID, conv); err != nil {
		return nil, errors.Join(runErr, fmt.Errorf("save session: %w", err))
	}

	var f *pipeline.StepFailure
	if errors.As(runErr, &f) && f.Mismatch() && f.StepName == "output" {
		return nil, ErrMaxRounds
	}
	if runErr != nil {
		return nil, runErr
	}
	return res, nil
}
