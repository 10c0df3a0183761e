// Package tools provides the research tools the executor can run: a web
// search tool and an LLM-backed summarizer. Tools are registered by name
// and looked up by the executor when it walks a plan.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/sagekit/sage/pkg/errors"
	"github.com/sagekit/sage/pkg/trace"
)

// Tool is a single research capability.
type Tool interface {
	// Name identifies the tool in plans and traces.
	Name() trace.ToolName

	// Execute runs the tool against the input and returns its textual
	// output.
	Execute(ctx context.Context, input string) (string, error)
}

// Registry holds the tools available to the executor.
type Registry struct {
	mu    sync.RWMutex
	tools map[trace.ToolName]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[trace.ToolName]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name.
func (r *Registry) Get(name trace.ToolName) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, errors.WithFields(
			errors.New(errors.ToolExecutionFailed, "tool is not registered"),
			errors.Fields{"tool": string(name)},
		)
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []trace.ToolName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]trace.ToolName, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
