package toolmesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/agent"
	"github.com/hupe1980/toolmesh/config"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/testutil"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/tool"
)

type weatherInput struct {
	City string `json:"city" description:"city name"`
}

func newMesh(t *testing.T, m model.Model, optFns ...func(o *Options)) *Toolmesh {
	t.Helper()

	cfg := config.Default()
	cfg.Retry.MaxRetries = 1
	cfg.Retry.InitialDelay = 0

	fns := append([]func(o *Options){func(o *Options) { o.Logger = logging.NoOpLogger{} }}, optFns...)
	mesh := New(cfg, m, fns...)
	require.NoError(t, mesh.Catalog().Register(tool.NewTypedTool("weather", "Current weather",
		func(_ context.Context, in weatherInput) (string, error) { return "sunny in " + in.City, nil },
	)))
	return mesh
}

func TestRun_ToolRoundTrip(t *testing.T) {
	inst := agent.NewInstructionFromText("Session {{ .session_id }}.")
	m := model.NewMockModel("mock",
		model.ToolTurn(testutil.Call("c1", "weather", `{"city":"Berlin"}`)),
		model.TextTurn("It is sunny in Berlin."),
	)
	mesh := newMesh(t, m, func(o *Options) { o.Instruction = &inst })

	res, err := mesh.Run(context.Background(), "s1", "Weather in Berlin?")
	require.NoError(t, err)
	assert.Equal(t, "It is sunny in Berlin.", res.Message)

	conv, err := mesh.Sessions().Load(context.Background(), "s1")
	require.NoError(t, err)

	msgs := conv.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.Equal(t, "Session s1.", msgs[0].Content)
	assert.Equal(t, core.RoleTool, msgs[3].Role)
	assert.Equal(t, "sunny in Berlin", msgs[3].Content)
	assert.Positive(t, mesh.Usage().Total())
}

func TestRun_ContinuesSession(t *testing.T) {
	m := model.NewMockModel("mock", model.TextTurn("first"), model.TextTurn("second"))
	mesh := newMesh(t, m)
	ctx := context.Background()

	_, err := mesh.Run(ctx, "s", "one")
	require.NoError(t, err)
	res, err := mesh.Run(ctx, "s", "two")
	require.NoError(t, err)
	assert.Equal(t, "second", res.Message)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 3, reqs[1].Conversation.Len())
}

func TestRun_MaxRounds(t *testing.T) {
	m := model.NewMockModel("mock",
		model.ToolTurn(testutil.Call("c1", "weather", `{"city":"Oslo"}`)),
		model.ToolTurn(testutil.Call("c2", "weather", `{"city":"Rome"}`)),
	)
	mesh := newMesh(t, m, func(o *Options) { o.MaxRounds = 2 })

	_, err := mesh.Run(context.Background(), "s", "go")
	require.ErrorIs(t, err, ErrMaxRounds)

	conv, err := mesh.Sessions().Load(context.Background(), "s")
	require.NoError(t, err)
	last, ok := conv.Last(core.RoleTool)
	require.True(t, ok)
	assert.Equal(t, "sunny in Rome", last.Content)
}

func TestNewModel(t *testing.T) {
	for _, name := range []string{"openai", "anthropic"} {
		m, err := NewModel(config.ProviderConfig{Name: name, Model: "m", APIKey: "k", MaxTokens: 16})
		require.NoError(t, err)
		assert.NotNil(t, m)
	}

	_, err := NewModel(config.ProviderConfig{Name: "cohere"})
	require.Error(t, err)
}
