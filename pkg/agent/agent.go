// Package agent pairs an input schema, an output schema and a system prompt
// with an LLM client. Each Run validates the input, records it in the
// conversation history, asks the model for a reply constrained to the output
// schema, validates that reply and records it too.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/atomic-agents/internal/llm"
	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/pkg/history"
	"github.com/comigor/atomic-agents/pkg/prompt"
	"github.com/comigor/atomic-agents/pkg/schema"
)

var (
	ErrNoClient  = errors.New("agent: llm client is required")
	ErrNoChoices = errors.New("agent: llm returned no choices")
	ErrNoStream  = errors.New("agent: llm client does not support streaming")
)

// ResponseMode selects how the output schema is enforced.
type ResponseMode string

const (
	// ModeJSONSchema sends the schema as a structured-output response format.
	ModeJSONSchema ResponseMode = "json_schema"
	// ModeJSONObject asks for any JSON object and puts the schema in the system
	// prompt, for OpenAI-compatible servers without json_schema support.
	ModeJSONObject ResponseMode = "json_object"
)

// Observer is notified after every completion request.
type Observer interface {
	ObserveRequest(agent, model string, promptTokens, completionTokens int, err error, duration time.Duration)
}

// Config configures an Agent.
type Config struct {
	Name         string
	Client       llm.Client
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemRole   string
	Mode         ResponseMode
	History      *history.History
	SystemPrompt *prompt.Generator
	Observer     Observer
}

// Agent is a typed LLM call: I in, O out.
type Agent[I, O any] struct {
	name        string
	client      llm.Client
	model       string
	temperature float32
	maxTokens   int
	systemRole  string
	mode        ResponseMode
	history     *history.History
	prompt      *prompt.Generator
	observer    Observer

	outputSchema json.RawMessage
	initial      *history.History
}

// New builds an agent. A nil History starts an unbounded one and a nil
// SystemPrompt uses the default generator.
func New[I, O any](cfg Config) (*Agent[I, O], error) {
	if cfg.Client == nil {
		return nil, ErrNoClient
	}
	outSchema, err := schema.SchemaOf[O]()
	if err != nil {
		return nil, fmt.Errorf("output schema: %w", err)
	}
	if _, err := schema.SchemaOf[I](); err != nil {
		return nil, fmt.Errorf("input schema: %w", err)
	}

	a := &Agent[I, O]{
		name:         cfg.Name,
		client:       cfg.Client,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemRole:   cfg.SystemRole,
		mode:         cfg.Mode,
		history:      cfg.History,
		prompt:       cfg.SystemPrompt,
		observer:     cfg.Observer,
		outputSchema: outSchema,
	}
	if a.name == "" {
		a.name = schema.Name[O]()
	}
	if a.model == "" {
		a.model = openai.GPT4oMini
	}
	if a.systemRole == "" {
		a.systemRole = openai.ChatMessageRoleSystem
	}
	if a.mode == "" {
		a.mode = ModeJSONSchema
	}
	if a.history == nil {
		a.history = history.New(0)
	}
	if a.prompt == nil {
		a.prompt = prompt.NewGenerator(nil, nil, nil)
	}
	a.initial = a.history.Copy()
	return a, nil
}

// Name identifies the agent in logs and metrics.
func (a *Agent[I, O]) Name() string { return a.name }

// History returns the live conversation history.
func (a *Agent[I, O]) History() *history.History { return a.history }

// SystemPrompt returns the generator, e.g. to register context providers.
func (a *Agent[I, O]) SystemPrompt() *prompt.Generator { return a.prompt }

// ResetHistory restores the history to its state when the agent was built.
func (a *Agent[I, O]) ResetHistory() {
	a.history.Reset()
	a.history.Append(a.initial.Messages()...)
}

// RegisterContextProvider is a shortcut for SystemPrompt().RegisterProvider.
func (a *Agent[I, O]) RegisterContextProvider(name string, p prompt.ContextProvider) {
	a.prompt.RegisterProvider(name, p)
}

// UnregisterContextProvider is a shortcut for SystemPrompt().UnregisterProvider.
func (a *Agent[I, O]) UnregisterContextProvider(name string) bool {
	return a.prompt.UnregisterProvider(name)
}

// Run sends input to the model and returns the validated reply.
func (a *Agent[I, O]) Run(ctx context.Context, input I) (O, error) {
	var zero O
	snapshot, err := a.beginTurn(input)
	if err != nil {
		return zero, err
	}

	req := a.buildRequest()
	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err == nil && len(resp.Choices) == 0 {
		err = ErrNoChoices
	}
	a.observe(resp.Usage, err, time.Since(start))
	if err != nil {
		a.rollback(snapshot)
		logger.L.Error("agent completion failed", "agent", a.name, "error", err)
		return zero, fmt.Errorf("%s: %w", a.name, err)
	}

	return a.finishTurn(snapshot, resp.Choices[0].Message.Content)
}

// RunStream behaves like Run but forwards every content delta to onDelta as it
// arrives. The accumulated text is validated once the stream ends.
func (a *Agent[I, O]) RunStream(ctx context.Context, input I, onDelta func(string) error) (O, error) {
	var zero O
	sc, ok := a.client.(llm.StreamClient)
	if !ok {
		return zero, ErrNoStream
	}
	snapshot, err := a.beginTurn(input)
	if err != nil {
		return zero, err
	}

	req := a.buildRequest()
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	start := time.Now()
	content, usage, err := consumeStream(ctx, sc, req, onDelta)
	a.observe(usage, err, time.Since(start))
	if err != nil {
		a.rollback(snapshot)
		logger.L.Error("agent stream failed", "agent", a.name, "error", err)
		return zero, fmt.Errorf("%s: %w", a.name, err)
	}

	return a.finishTurn(snapshot, content)
}

// beginTurn records the input and returns the history as it was before.
func (a *Agent[I, O]) beginTurn(input I) (*history.History, error) {
	if err := schema.Validate(input); err != nil {
		return nil, fmt.Errorf("%s: invalid input: %w", a.name, err)
	}
	snapshot := a.history.Copy()
	a.history.InitializeTurn()
	if _, err := a.history.AddMessage(history.RoleUser, input); err != nil {
		a.history.Restore(snapshot)
		return nil, err
	}
	return snapshot, nil
}

func (a *Agent[I, O]) finishTurn(snapshot *history.History, content string) (O, error) {
	out, err := schema.Decode[O]([]byte(content))
	if err != nil {
		a.rollback(snapshot)
		logger.L.Warn("llm reply does not match output schema", "agent", a.name, "content", content, "error", err)
		var zero O
		return zero, fmt.Errorf("%s: %w", a.name, err)
	}
	if _, err := a.history.AddMessage(history.RoleAssistant, out); err != nil {
		a.rollback(snapshot)
		var zero O
		return zero, err
	}
	return out, nil
}

// rollback puts the history back as it was before the failed turn, including
// messages the window dropped for it.
func (a *Agent[I, O]) rollback(snapshot *history.History) {
	a.history.Restore(snapshot)
	logger.L.Debug("turn rolled back", "agent", a.name, "messages", a.history.Count())
}

func (a *Agent[I, O]) observe(usage openai.Usage, err error, d time.Duration) {
	if a.observer == nil {
		return
	}
	a.observer.ObserveRequest(a.name, a.model, usage.PromptTokens, usage.CompletionTokens, err, d)
}

// Messages returns the chat messages the next request would send.
func (a *Agent[I, O]) Messages() []openai.ChatCompletionMessage {
	systemPrompt := a.prompt.Generate()
	if a.mode == ModeJSONObject {
		systemPrompt += "\n\n# OUTPUT SCHEMA\n" + string(a.outputSchema)
	}

	msgs := make([]openai.ChatCompletionMessage, 0, a.history.Count()+1)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: a.systemRole, Content: systemPrompt})
	}
	for _, m := range a.history.Messages() {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Text()})
	}
	return msgs
}

func (a *Agent[I, O]) buildRequest() openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    a.Messages(),
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	}
	switch a.mode {
	case ModeJSONObject:
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	default:
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schema.Name[O](),
				Schema: a.outputSchema,
			},
		}
	}
	return req
}
