package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/harunnryd/parley/pkg/llm"
)

// Registry is the set of tools one agent may call.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		_ = r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every tool definition sorted by name.
func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	r.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) LLMTools() []llm.Tool {
	defs := r.Definitions()
	out := make([]llm.Tool, len(defs))
	for i, d := range defs {
		out[i] = d.LLMTool()
	}
	return out
}
