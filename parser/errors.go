package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/toolmesh/internal/util"
)

var (
	// ErrUnknownTool is matched by ParseErrors that name a tool missing from the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMalformedCall is matched by ParseErrors for structurally broken call objects.
	ErrMalformedCall = errors.New("malformed tool call")
)

// CodeParse is the machine code carried by every ParseError.
const CodeParse = "PARSE_ERROR"

// ParseError describes a recognized tool-call attempt that could not be turned
// into a ToolCall. The message is written for the model, so it can correct
// itself on the next turn.
type ParseError struct {
	Tool      string
	Available []string
	Detail    string
	Snippet   string
	kind      error
}

func (e *ParseError) Error() string {
	switch e.kind {
	case ErrUnknownTool:
		avail := "none"
		if len(e.Available) > 0 {
			avail = strings.Join(e.Available, ", ")
		}
		return fmt.Sprintf("unknown tool %q; available tools: %s", e.Tool, avail)
	default:
		msg := "malformed tool call"
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		if e.Snippet != "" {
			msg += "; received " + e.Snippet
		}
		return msg
	}
}

// Code returns CodeParse.
func (e *ParseError) Code() string { return CodeParse }

func (e *ParseError) Unwrap() error { return e.kind }

func unknownTool(name string, available []string) *ParseError {
	return &ParseError{Tool: name, Available: available, kind: ErrUnknownTool}
}

func malformed(detail, snippet string) *ParseError {
	return &ParseError{Detail: detail, Snippet: util.Truncate(snippet, 200), kind: ErrMalformedCall}
}
