package testutil

import (
	"strings"

	"github.com/hupe1980/toolmesh/core"
)

// Drained is the flattened view of a finished stream.
type Drained struct {
	Chunks    []core.StreamChunk
	Text      string
	ToolCalls []core.ToolCall
	Finished  bool
	Err       error
}

// Texts returns the text of every text chunk in order.
func (d Drained) Texts() []string {
	var out []string
	for _, c := range d.Chunks {
		if c.Kind == core.ChunkText {
			out = append(out, c.Text)
		}
	}
	return out
}

// Drain reads chunks and errors until both channels are closed.
func Drain(chunks <-chan core.StreamChunk, errs <-chan error) Drained {
	var (
		d  Drained
		sb strings.Builder
	)
	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			d.Chunks = append(d.Chunks, c)
			switch c.Kind {
			case core.ChunkText:
				sb.WriteString(c.Text)
			case core.ChunkToolCall:
				d.ToolCalls = append(d.ToolCalls, c.ToolCall)
			case core.ChunkFinish:
				d.Finished = true
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if d.Err == nil {
				d.Err = err
			}
		}
	}
	d.Text = sb.String()
	return d
}
