package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
)

// ToolRegistry manages available tools with thread-safe operations
type ToolRegistry interface {
	RegisterTool(tool Tool) error
	GetTool(name string) (Tool, error)
	ListTools() []Tool
	UnregisterTool(name string) error
	HasTool(name string) bool
}

// InMemoryToolRegistry is a thread-safe in-memory implementation of ToolRegistry
type InMemoryToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

var _ ToolRegistry = (*InMemoryToolRegistry)(nil)

func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{
		tools: make(map[string]Tool),
	}
}

func (r *InMemoryToolRegistry) RegisterTool(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	return nil
}

func (r *InMemoryToolRegistry) GetTool(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// ListTools returns all registered tools sorted by name.
func (r *InMemoryToolRegistry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name() < tools[j].Name()
	})
	return tools
}

func (r *InMemoryToolRegistry) UnregisterTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool not found: %s", name)
	}
	delete(r.tools, name)
	return nil
}

// Merge creates a new registry that contains tools from both registries
// If there are conflicts, tools from the other registry take precedence
func (r *InMemoryToolRegistry) Merge(other ToolRegistry) *InMemoryToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	merged := NewInMemoryToolRegistry()
	for name, tool := range r.tools {
		merged.tools[name] = tool
	}
	for _, tool := range other.ListTools() {
		merged.tools[tool.Name()] = tool
	}
	return merged
}

func (r *InMemoryToolRegistry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

func (r *InMemoryToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Definitions renders the registry for a provider request.
func Definitions(r ToolRegistry) []engine.ToolDefinition {
	tools := r.ListTools()
	ret := make([]engine.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		ret = append(ret, engine.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return ret
}
