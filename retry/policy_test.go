package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/testutil"
	"github.com/hupe1980/toolmesh/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig(maxRetries int) Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = maxRetries
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Timeout = time.Second
	return cfg
}

func newRequest() *model.Request {
	return &model.Request{Conversation: core.NewConversation(core.Message{Role: core.RoleUser, Content: "hi"})}
}

func modelFactory(m model.Model) StreamFactory {
	return func(ctx context.Context, req *model.Request) (<-chan core.StreamChunk, <-chan error) {
		return m.Generate(ctx, *req)
	}
}

func TestExecuteStream_SucceedsFirstAttempt(t *testing.T) {
	m := model.NewMockModel("mock", model.TextTurn("hello", " world"))
	p := New(fastConfig(2))

	d := testutil.Drain(p.ExecuteStream(context.Background(), newRequest(), modelFactory(m)))

	require.NoError(t, d.Err)
	assert.True(t, d.Finished)
	assert.Equal(t, "hello world", d.Text)
	assert.Equal(t, 1, m.Calls())
}

func TestExecuteStream_ExhaustsWithoutFinish(t *testing.T) {
	var attempts atomic.Int32
	factory := func(ctx context.Context, _ *model.Request) (<-chan core.StreamChunk, <-chan error) {
		attempts.Add(1)
		chunks := make(chan core.StreamChunk)
		errs := make(chan error, 1)
		go func() {
			defer close(chunks)
			defer close(errs)
			errs <- NewSignal("try again")
		}()
		return chunks, errs
	}

	var events []Event
	p := New(fastConfig(2), func(o *Options) {
		o.OnRetry = func(e Event) { events = append(events, e) }
	})

	d := testutil.Drain(p.ExecuteStream(context.Background(), newRequest(), factory))

	require.NoError(t, d.Err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.False(t, d.Finished)
	assert.Equal(t, []string{"[retry 1]", "[retry 2]"}, d.Texts())
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, time.Millisecond, events[0].Delay)
	assert.Equal(t, 2*time.Millisecond, events[1].Delay)
}

func TestExecuteStream_CorrectionVisibleOnNextAttempt(t *testing.T) {
	m := model.NewMockModel("mock",
		model.Turn{Chunks: []core.StreamChunk{core.TextChunk("bad")}, Err: NewSignal("use valid JSON")},
		model.TextTurn("good"),
	)
	req := newRequest()
	p := New(fastConfig(2))

	d := testutil.Drain(p.ExecuteStream(context.Background(), req, modelFactory(m)))

	require.NoError(t, d.Err)
	assert.True(t, d.Finished)
	assert.Equal(t, []string{"bad", "[retry 1]", "good"}, d.Texts())

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.False(t, reqs[0].Conversation.HasTemporary())

	last := reqs[1].Conversation.Messages()[reqs[1].Conversation.Len()-1]
	assert.Equal(t, core.RoleSystem, last.Role)
	assert.True(t, last.Temporary)
	assert.Equal(t, "use valid JSON", last.Content)

	// the caller's request is untouched
	assert.Equal(t, 1, req.Conversation.Len())
}

func TestExecuteStream_NonRetryableErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	m := model.NewMockModel("mock", model.ErrTurn(boom), model.TextTurn("unused"))
	p := New(fastConfig(3))

	d := testutil.Drain(p.ExecuteStream(context.Background(), newRequest(), modelFactory(m)))

	require.ErrorIs(t, d.Err, boom)
	assert.Equal(t, 1, m.Calls())
	assert.False(t, d.Finished)
}

func TestExecuteStream_AttemptTimeoutIsRetried(t *testing.T) {
	m := model.NewMockModel("mock", model.BlockTurn(), model.TextTurn("late but fine"))
	cfg := fastConfig(1)
	cfg.Timeout = 20 * time.Millisecond
	p := New(cfg)

	d := testutil.Drain(p.ExecuteStream(context.Background(), newRequest(), modelFactory(m)))

	require.NoError(t, d.Err)
	assert.True(t, d.Finished)
	assert.Equal(t, "[retry 1]late but fine", d.Text)
	assert.Equal(t, 2, m.Calls())
}

func TestExecuteStream_CallerCancellationWins(t *testing.T) {
	m := model.NewMockModel("mock", model.BlockTurn())
	cfg := fastConfig(5)
	cfg.Timeout = time.Minute
	p := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	d := testutil.Drain(p.ExecuteStream(ctx, newRequest(), modelFactory(m)))

	require.ErrorIs(t, d.Err, context.DeadlineExceeded)
	assert.Equal(t, 1, m.Calls())
}

func TestExecuteStream_Disabled(t *testing.T) {
	m := model.NewMockModel("mock", model.ErrTurn(NewSignal("ignored")))
	cfg := fastConfig(3)
	cfg.Enabled = false
	p := New(cfg)

	d := testutil.Drain(p.ExecuteStream(context.Background(), newRequest(), modelFactory(m)))

	assert.True(t, IsRetryable(d.Err))
	assert.Equal(t, 1, m.Calls())
	assert.Empty(t, d.Texts())
}

func TestSignal(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	sig := Errorf("response is not valid JSON: %w", cause)

	assert.Equal(t, "response is not valid JSON: unexpected end of JSON input", sig.Correction)
	assert.ErrorIs(t, sig, cause)

	wrapped := errors.Join(errors.New("outer"), sig)
	got, ok := AsSignal(wrapped)
	require.True(t, ok)
	assert.Same(t, sig, got)
	assert.False(t, IsRetryable(cause))
}
