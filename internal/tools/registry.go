package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the tools available to the agent, keyed by name.
//
// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool. Registering a name twice replaces the earlier tool.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		r.logger.Warn("replacing registered tool", "tool", def.Name)
	}
	r.tools[def.Name] = tool
	return nil
}

// Definitions returns the catalog sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs the named tool. An unknown name yields an error Result,
// not a Go error: the model sees the failure as a tool outcome and can
// correct itself on the next iteration.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name)
		return ErrorResult(fmt.Sprintf("Tool not found: %s", name)), nil
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("executing tool %q: %w", name, err)
	}
	return result, nil
}
