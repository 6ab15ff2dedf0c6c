package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"INFO", LogLevelInfo, false},
		{"", LogLevelInfo, false},
		{"warning", LogLevelWarn, false},
		{"error", LogLevelError, false},
		{"loud", LogLevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
		} else {
			assert.NoError(t, err, tt.in)
		}
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestRuntimeLogger_KeyValueAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}).
		WithComponent("runtime").
		WithRun("run-1", "ask")

	l.Info("tool.call.start", "tool", "search")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "tool.call.start", rec["msg"])
	assert.Equal(t, "search", rec["tool"])
	assert.Equal(t, "runtime", rec["component"])
	assert.Equal(t, "run-1", rec["run_id"])
	assert.Equal(t, "ask", rec["step"])
}

func TestRuntimeLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})
	l.Info("hidden")
	l.Debug("hidden")
	assert.Empty(t, buf.String())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestDomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "text", Output: &buf})

	LogToolCall(l, "calc", time.Millisecond, nil)
	LogToolCall(l, "calc", time.Millisecond, errors.New("boom"))
	LogLLMCall(l, "mock", 12, true, time.Millisecond, nil)
	LogStep(l, "p", "s", time.Millisecond, errors.New("bad input"))

	out := buf.String()
	assert.Contains(t, out, "tool.call.completed")
	assert.Contains(t, out, "tool.call.failed")
	assert.Contains(t, out, "llm.call.completed")
	assert.Contains(t, out, "pipeline.step.failed")

	// nil loggers are ignored
	LogToolCall(nil, "calc", 0, nil)
}

func TestScoped(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})

	Scoped(l, "run-7", "execute_tools").Info("agent.tools.executed")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "run-7", rec["run_id"])
	assert.Equal(t, "execute_tools", rec["step"])

	assert.Equal(t, NoOpLogger{}, Scoped(NoOpLogger{}, "run-7", "x"))
}

func TestLogPanic(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})

	LogPanic(l, "tool.call.panic", errors.New("kaboom"), "tool", "calc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "tool.call.panic", rec["msg"])
	assert.Equal(t, "calc", rec["tool"])
	assert.Equal(t, "kaboom", rec["error"])
	assert.Contains(t, rec["stack_trace"], "goroutine")

	var sbuf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewTextHandler(&sbuf, nil)))
	LogPanic(adapter, "tool.call.panic", errors.New("kaboom"))
	assert.Contains(t, sbuf.String(), "error=kaboom")
	assert.NotContains(t, sbuf.String(), "stack_trace")

	LogPanic(nil, "ignored", errors.New("x"))
}
