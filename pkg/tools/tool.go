// Package tools holds single-purpose callables an agent can invoke. Every tool
// declares the JSON Schema of its arguments and runs on a JSON string.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/comigor/atomic-agents/pkg/schema"
)

// Tool is the interface for all tools
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Run(ctx context.Context, args string) (string, error)
}

// Typed is a Tool whose arguments and result are Go schemas.
type Typed[I, O any] struct {
	name         string
	description  string
	fn           func(context.Context, I) (O, error)
	inputSchema  json.RawMessage
	outputSchema json.RawMessage
}

// NewTyped wraps fn as a tool. The input and output schemas are derived from
// the type parameters.
func NewTyped[I, O any](name, description string, fn func(context.Context, I) (O, error)) (*Typed[I, O], error) {
	in, err := schema.SchemaOf[I]()
	if err != nil {
		return nil, fmt.Errorf("tool %s input schema: %w", name, err)
	}
	out, err := schema.SchemaOf[O]()
	if err != nil {
		return nil, fmt.Errorf("tool %s output schema: %w", name, err)
	}
	return &Typed[I, O]{name: name, description: description, fn: fn, inputSchema: in, outputSchema: out}, nil
}

func (t *Typed[I, O]) Name() string                  { return t.name }
func (t *Typed[I, O]) Description() string           { return t.description }
func (t *Typed[I, O]) Parameters() json.RawMessage   { return t.inputSchema }
func (t *Typed[I, O]) InputSchema() json.RawMessage  { return t.inputSchema }
func (t *Typed[I, O]) OutputSchema() json.RawMessage { return t.outputSchema }

// Call validates input and runs the tool.
func (t *Typed[I, O]) Call(ctx context.Context, input I) (O, error) {
	if err := schema.Validate(input); err != nil {
		var zero O
		return zero, fmt.Errorf("%s: %w", t.name, err)
	}
	return t.fn(ctx, input)
}

// Run decodes JSON arguments, runs the tool and encodes its result as JSON.
func (t *Typed[I, O]) Run(ctx context.Context, args string) (string, error) {
	if args == "" {
		args = "{}"
	}
	input, err := schema.Decode[I]([]byte(args))
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.name, err)
	}
	out, err := t.fn(ctx, input)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("%s: encode result: %w", t.name, err)
	}
	return string(b), nil
}
