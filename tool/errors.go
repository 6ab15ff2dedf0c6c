package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/toolmesh/internal/util"
)

// Error codes used to categorize tool failures.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "TOOL_NOT_FOUND"
)

var (
	// ErrToolNotFound is returned when a call names a tool absent from the catalog.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDuplicateTool is returned when registering a name that is already taken.
	ErrDuplicateTool = errors.New("duplicate tool")
)

// ValidationError describes one argument that could not be bound to a declared
// parameter.
type ValidationError struct {
	Tool        string `json:"tool"`
	Param       string `json:"param"`
	Description string `json:"description,omitempty"`
	Value       string `json:"value,omitempty"` // raw JSON as received
	Message     string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid argument '%s' for tool %s: %s", e.Param, e.Tool, e.Message)
	if e.Description != "" {
		fmt.Fprintf(&b, " (parameter: %s)", e.Description)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, "; received %s", e.Value)
	}
	return b.String()
}

// ValidationErrors aggregates every binding failure of a single call so the
// model can fix all of them in one retry.
type ValidationErrors struct {
	Tool   string
	Errors []*ValidationError
}

// Error implements the error interface for ValidationErrors.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	lines := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		lines[i] = "- " + ve.Error()
	}
	return fmt.Sprintf("%d invalid arguments for tool %s:\n%s", len(e.Errors), e.Tool, strings.Join(lines, "\n"))
}

// Code returns the error category.
func (e *ValidationErrors) Code() string { return CodeValidation }

func (e *ValidationErrors) add(ve *ValidationError) { e.Errors = append(e.Errors, ve) }

func (e *ValidationErrors) orNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// ExecutionError represents errors that occur during tool execution.
type ExecutionError struct {
	Tool    string `json:"tool"`    // Name of the tool that failed
	Message string `json:"message"` // Error message
	Code    string `json:"code"`    // Error code for categorization
	Err     error  `json:"-"`
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError wraps err as an EXECUTION_ERROR for the named tool. An
// *ExecutionError is passed through unchanged.
func NewExecutionError(tool string, err error) *ExecutionError {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExecutionError{Tool: tool, Message: err.Error(), Code: CodeExecution, Err: err}
}

func rawValue(raw json.RawMessage) string {
	const limit = 200
	s := strings.TrimSpace(string(raw))
	return util.Truncate(s, limit)
}
