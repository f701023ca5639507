// Package prompt renders the system prompt of an agent from its background,
// steps, output instructions and dynamic context providers.
package prompt

import (
	"strings"
	"sync"
)

// DefaultBackground is used when a generator has no background lines.
const DefaultBackground = "This is a conversation with a helpful and friendly AI assistant."

var fixedOutputInstructions = []string{
	"Always respond using the proper JSON schema.",
	"Always use the available additional information and context to enhance the response.",
}

// ContextProvider injects dynamic information into the system prompt.
type ContextProvider interface {
	Title() string
	Info() string
}

// StaticProvider is a ContextProvider with fixed content.
type StaticProvider struct {
	Name    string
	Content string
}

func (p StaticProvider) Title() string { return p.Name }
func (p StaticProvider) Info() string  { return p.Content }

// FuncProvider computes its info on every render, e.g. the current date.
type FuncProvider struct {
	Name string
	Fn   func() string
}

func (p FuncProvider) Title() string { return p.Name }
func (p FuncProvider) Info() string  { return p.Fn() }

// Generator builds system prompts. Context providers are keyed by name and
// rendered in registration order.
type Generator struct {
	Background         []string
	Steps              []string
	OutputInstructions []string

	mu        sync.RWMutex
	order     []string
	providers map[string]ContextProvider
}

// NewGenerator creates a generator with the given sections.
func NewGenerator(background, steps, outputInstructions []string) *Generator {
	return &Generator{
		Background:         background,
		Steps:              steps,
		OutputInstructions: outputInstructions,
		providers:          make(map[string]ContextProvider),
	}
}

// RegisterProvider adds or replaces a context provider.
func (g *Generator) RegisterProvider(name string, p ContextProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.providers == nil {
		g.providers = make(map[string]ContextProvider)
	}
	if _, exists := g.providers[name]; !exists {
		g.order = append(g.order, name)
	}
	g.providers[name] = p
}

// UnregisterProvider removes a provider; it reports whether one was removed.
func (g *Generator) UnregisterProvider(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.providers[name]; !ok {
		return false
	}
	delete(g.providers, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// Provider returns a registered provider by name.
func (g *Generator) Provider(name string) (ContextProvider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[name]
	return p, ok
}

// Generate renders the system prompt.
func (g *Generator) Generate() string {
	background := g.Background
	if len(background) == 0 {
		background = []string{DefaultBackground}
	}
	instructions := append(append([]string{}, fixedOutputInstructions...), g.OutputInstructions...)

	var b strings.Builder
	writeSection(&b, "IDENTITY and PURPOSE", background)
	writeSection(&b, "INTERNAL ASSISTANT STEPS", g.Steps)
	writeSection(&b, "OUTPUT INSTRUCTIONS", instructions)

	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.order) > 0 {
		b.WriteString("# EXTRA INFORMATION AND CONTEXT\n")
		for _, name := range g.order {
			p := g.providers[name]
			info := p.Info()
			if info == "" {
				continue
			}
			b.WriteString("## ")
			b.WriteString(p.Title())
			b.WriteString("\n")
			b.WriteString(info)
			b.WriteString("\n\n")
		}
	}

	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteString("# ")
	b.WriteString(title)
	b.WriteString("\n")
	for _, l := range lines {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}
