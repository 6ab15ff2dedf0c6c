package core

import "fmt"

// ChunkKind discriminates StreamChunk variants.
type ChunkKind int

const (
	// ChunkText carries a fragment of assistant text.
	ChunkText ChunkKind = iota
	// ChunkToolCall carries one complete, validated tool call.
	ChunkToolCall
	// ChunkUsage carries token accounting for the attempt.
	ChunkUsage
	// ChunkFinish marks a successful end of stream.
	ChunkFinish
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkText:
		return "text"
	case ChunkToolCall:
		return "tool_call"
	case ChunkUsage:
		return "usage"
	case ChunkFinish:
		return "finish"
	default:
		return fmt.Sprintf("ChunkKind(%d)", int(k))
	}
}

// Finish reasons reported by providers.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// StreamChunk is one element of a streamed model response. Exactly the field
// matching Kind is meaningful.
type StreamChunk struct {
	Kind         ChunkKind
	Text         string
	ToolCall     ToolCall
	Usage        Usage
	FinishReason string
}

// TextChunk builds a text fragment chunk.
func TextChunk(text string) StreamChunk { return StreamChunk{Kind: ChunkText, Text: text} }

// ToolCallChunk builds a tool-call chunk.
func ToolCallChunk(tc ToolCall) StreamChunk { return StreamChunk{Kind: ChunkToolCall, ToolCall: tc} }

// UsageChunk builds a usage chunk.
func UsageChunk(u Usage) StreamChunk { return StreamChunk{Kind: ChunkUsage, Usage: u} }

// FinishChunk builds a terminal chunk.
func FinishChunk(reason string) StreamChunk {
	return StreamChunk{Kind: ChunkFinish, FinishReason: reason}
}
