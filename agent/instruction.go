package agent

import (
	"fmt"
	"maps"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(*core.RunContext) (string, error)
}

// ProviderFunc allows ordinary functions to be used as Providers.
type ProviderFunc func(*core.RunContext) (string, error)

// Instruction implements Provider.
func (f ProviderFunc) Instruction(rc *core.RunContext) (string, error) { return f(rc) }

// Instruction is either a text/template rendered against the run's shared
// values or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a template string. The
// template sees RunContext.Values plus run_id and step.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.RunContext) (string, error)) Instruction {
	return Instruction{provider: ProviderFunc(f)}
}

// IsStatic returns true if the instruction is backed by a template string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider or rendering
// the template.
func (i Instruction) Resolve(rc *core.RunContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(rc)
	}

	state := make(map[string]any, len(rc.Values)+2)
	maps.Copy(state, rc.Values)
	state["run_id"] = rc.RunID
	state["step"] = rc.Step

	text, err := util.RenderTemplate(i.text, state)
	if err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}
	return text, nil
}
