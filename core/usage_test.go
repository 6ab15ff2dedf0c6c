package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsageTracker_Concurrent(t *testing.T) {
	tr := NewUsageTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add(Usage{InputTokens: 2, OutputTokens: 1})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Calls())
	assert.Equal(t, Usage{InputTokens: 100, OutputTokens: 50}, tr.Snapshot())
	assert.Equal(t, 150, tr.Snapshot().Total())
}

func TestUsage_AddEstimated(t *testing.T) {
	u := Usage{InputTokens: 1}.Add(Usage{OutputTokens: 2, Estimated: true})
	assert.True(t, u.Estimated)
	assert.Equal(t, 3, u.Total())
}

func TestChunkConstructors(t *testing.T) {
	assert.Equal(t, ChunkText, TextChunk("a").Kind)
	assert.Equal(t, ChunkToolCall, ToolCallChunk(NewMessageCall("m")).Kind)
	assert.Equal(t, ChunkUsage, UsageChunk(Usage{}).Kind)
	fc := FinishChunk(FinishStop)
	assert.Equal(t, ChunkFinish, fc.Kind)
	assert.Equal(t, "stop", fc.FinishReason)
	assert.Equal(t, "finish", fc.Kind.String())
}
