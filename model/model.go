package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// ToolChoice controls whether the provider may, must, or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input.
type Request struct {
	Conversation *core.Conversation `json:"conversation"`
	Tools        []ToolDefinition   `json:"tools,omitempty"`
	ToolChoice   ToolChoice         `json:"tool_choice,omitempty"`
	JSONSchema   map[string]any     `json:"json_schema,omitempty"` // non-nil requests JSON mode
	SchemaName   string             `json:"schema_name,omitempty"`
	Temperature  *float64           `json:"temperature,omitempty"`
	MaxTokens    int                `json:"max_tokens,omitempty"`
}

// Clone returns a copy with a deep-copied conversation.
func (r *Request) Clone() *Request {
	c := *r
	c.Conversation = r.Conversation.Clone()
	if r.Tools != nil {
		c.Tools = append([]ToolDefinition(nil), r.Tools...)
	}
	return &c
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the provider boundary. Generate streams chunks until the response
// ends; a successful response ends with a Finish chunk. Both channels are
// closed when generation stops.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan core.StreamChunk, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Turn scripts one Generate call of a MockModel.
type Turn struct {
	Chunks []core.StreamChunk
	Err    error // sent after Chunks
	Block  bool  // after Chunks, wait for ctx cancellation
}

// TextTurn streams the given fragments followed by a stop Finish.
func TextTurn(fragments ...string) Turn {
	chunks := make([]core.StreamChunk, 0, len(fragments)+1)
	for _, f := range fragments {
		chunks = append(chunks, core.TextChunk(f))
	}
	return Turn{Chunks: append(chunks, core.FinishChunk(core.FinishStop))}
}

// ToolTurn streams native tool calls followed by a tool_calls Finish.
func ToolTurn(calls ...core.ToolCall) Turn {
	chunks := make([]core.StreamChunk, 0, len(calls)+1)
	for _, c := range calls {
		chunks = append(chunks, core.ToolCallChunk(c))
	}
	return Turn{Chunks: append(chunks, core.FinishChunk(core.FinishToolCalls))}
}

// ErrTurn fails immediately with err.
func ErrTurn(err error) Turn { return Turn{Err: err} }

// BlockTurn streams nothing and blocks until the request context ends.
func BlockTurn() Turn { return Turn{Block: true} }

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Scripted turns are consumed in order; once exhausted, canned responses
// keyed by the last user message are used, falling back to an echo.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	turns     []Turn
	responses map[string]string
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name string, turns ...Turn) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      "mock",
			SupportsTools: true,
		},
		turns:     turns,
		responses: make(map[string]string),
	}
}

// Script appends turns to the queue.
func (m *MockModel) Script(turns ...Turn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, turns...)
	return m
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response
}

// Requests returns every request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

func (m *MockModel) next(req Request) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, *req.Clone())

	if len(m.turns) > 0 {
		t := m.turns[0]
		m.turns = m.turns[1:]
		return t
	}

	var input string
	if req.Conversation != nil {
		if last, ok := req.Conversation.Last(core.RoleUser); ok {
			input = last.Content
		}
	}
	full := m.responses[input]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", input)
	}
	return TextTurn(full)
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan core.StreamChunk, <-chan error) {
	chunkCh := make(chan core.StreamChunk, 16)
	errCh := make(chan error, 1)

	turn := m.next(req)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		for _, c := range turn.Chunks {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case chunkCh <- c:
			}
		}

		if turn.Block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}

		if turn.Err != nil {
			errCh <- turn.Err
		}
	}()

	return chunkCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
