package agents

import (
	"sync"

	"github.com/parlance-ai/parlance/pkg/core"
)

// Registry holds an ordered capability set and the active-agent pointer.
// The first registered definition is active until a handoff switches it.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	defs   map[string]*Definition
	active string
}

// NewRegistry validates and registers the capability set. At least one
// definition is required; names must be unique and every handoff target
// must resolve within the set.
func NewRegistry(defs ...Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, core.NewInvalidRequestError("at least one agent definition is required")
	}

	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		if err := def.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.defs[def.Name]; dup {
			return nil, core.NewInvalidRequestErrorWithParam("duplicate agent name", def.Name)
		}
		d := def
		r.defs[def.Name] = &d
		r.order = append(r.order, def.Name)
	}
	for _, def := range defs {
		for _, target := range def.HandoffTargets {
			if _, ok := r.defs[target]; !ok {
				return nil, core.NewInvalidRequestErrorWithParam("handoff target "+target+" is not registered", def.Name)
			}
		}
	}
	r.active = r.order[0]
	return r, nil
}

// Active returns a copy of the active agent definition.
func (r *Registry) Active() Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.defs[r.active]
}

// Get returns a copy of the named definition, if registered.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, false
	}
	return *def, true
}

// Names lists the registered agent names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SetActive switches the active agent. The target must be registered and
// reachable from the current agent's handoff set; an unreachable target is
// rejected and the active pointer is left unchanged.
func (r *Registry) SetActive(name string) (Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[name]
	if !ok {
		return Definition{}, core.NewInvalidRequestErrorWithParam("unknown agent", name)
	}
	if name == r.active {
		return *def, nil
	}
	if !r.defs[r.active].CanHandOffTo(name) {
		return Definition{}, core.NewInvalidRequestErrorWithParam("agent is not a handoff target of "+r.active, name)
	}
	r.active = name
	return *def, nil
}

// AppendGuardrail adds a guardrail to the named agent, keyed by guardrail
// name: appending a guardrail already present is a no-op. Intended to run
// before first connect.
func (r *Registry) AppendGuardrail(agentName string, g Guardrail) error {
	if g == nil {
		return core.NewInvalidRequestError("guardrail must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[agentName]
	if !ok {
		return core.NewInvalidRequestErrorWithParam("unknown agent", agentName)
	}
	for _, existing := range def.Guardrails {
		if existing.Name() == g.Name() {
			return nil
		}
	}
	def.Guardrails = append(def.Guardrails, g)
	return nil
}
