package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrToolNotFound = errors.New("tool not found")
	ErrToolExists   = errors.New("tool already registered")
)

// ToolManager manages the available tools
type ToolManager struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolManager creates a new ToolManager
func NewToolManager(ts ...Tool) *ToolManager {
	m := &ToolManager{tools: make(map[string]Tool)}
	for _, t := range ts {
		m.tools[t.Name()] = t
	}
	return m
}

// RegisterTool registers a new tool. Names are unique.
func (m *ToolManager) RegisterTool(tool Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tools[tool.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrToolExists, tool.Name())
	}
	m.tools[tool.Name()] = tool
	return nil
}

// GetTool retrieves a tool by name
func (m *ToolManager) GetTool(name string) (Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tool, ok := m.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// List returns all registered tools sorted by name
func (m *ToolManager) List() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts := make([]Tool, 0, len(m.tools))
	for _, t := range m.tools {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name() < ts[j].Name() })
	return ts
}

// OpenAITools describes every tool as an OpenAI function definition.
func (m *ToolManager) OpenAITools() []openai.Tool {
	list := m.List()
	out := make([]openai.Tool, 0, len(list))
	for _, t := range list {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}
