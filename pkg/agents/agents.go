// Package agents holds agent capability sets: who the session speaks as,
// which tools it may call, which guardrails screen its output, and which
// other agents it may hand the conversation to.
package agents

import (
	"strings"

	"github.com/parlance-ai/parlance/pkg/core"
)

// Definition is one agent capability set. Definitions are immutable after
// registration except for guardrail appension, which is idempotent by
// guardrail name.
type Definition struct {
	// Name is unique within a capability set.
	Name string
	// Instructions is the system prompt pushed when this agent is active.
	Instructions string
	// Tools declares the functions this agent may call.
	Tools []core.ToolSchema
	// Guardrails screen the agent's final output, in order.
	Guardrails []Guardrail
	// HandoffTargets names the agents this one may hand the conversation to.
	HandoffTargets []string
}

func (d Definition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return core.NewInvalidRequestErrorWithParam("agent name must not be empty", "name")
	}
	seen := make(map[string]struct{}, len(d.Tools))
	for _, tool := range d.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			return core.NewInvalidRequestErrorWithParam("tool name must not be empty", d.Name)
		}
		if _, dup := seen[tool.Name]; dup {
			return core.NewInvalidRequestErrorWithParam("duplicate tool name "+tool.Name, d.Name)
		}
		seen[tool.Name] = struct{}{}
	}
	return nil
}

// Tool returns the named tool schema, if this agent declares it.
func (d Definition) Tool(name string) (core.ToolSchema, bool) {
	for _, tool := range d.Tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return core.ToolSchema{}, false
}

// CanHandOffTo reports whether name is in this agent's handoff set.
func (d Definition) CanHandOffTo(name string) bool {
	for _, target := range d.HandoffTargets {
		if target == name {
			return true
		}
	}
	return false
}
