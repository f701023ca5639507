// Package toolagent runs a chat model in a tool-calling loop. Tools come from
// the local registry and from MCP servers; the loop is a small state machine
// that alternates between asking the model and executing the tools it asks for.
package toolagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/internal/llm"
	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/pkg/agent"
	"github.com/comigor/atomic-agents/pkg/history"
	"github.com/comigor/atomic-agents/pkg/schema"
	"github.com/comigor/atomic-agents/pkg/tools"
)

// FSM states.
type FSMState stateless.State

var (
	StateReadyToCallLLM FSMState = "ReadyToCallLLM"
	StateExecutingTools FSMState = "ExecutingTools"
	StateDone           FSMState = "Done"
	StateError          FSMState = "Error"
)

// FSM triggers.
type FSMTrigger stateless.Trigger

var (
	TriggerProcessInput            FSMTrigger = "ProcessInput"
	TriggerLLMRespondedWithContent FSMTrigger = "LLMRespondedWithContent"
	TriggerLLMRequestedTools       FSMTrigger = "LLMRequestedTools"
	TriggerToolsExecutionCompleted FSMTrigger = "ToolsExecutionCompleted"
	TriggerErrorOccurred           FSMTrigger = "ErrorOccurred"
)

var (
	ErrMaxTurns = errors.New("exceeded maximum interaction turns")
	ErrNoStream = errors.New("llm client does not support streaming")
)

const (
	defaultSystemPrompt = "You are a helpful AI assistant. Please respond to the user's request accurately and concisely."
	defaultMaxTurns     = 5
	defaultName         = "tool_agent"
)

// Agent answers chat messages, calling tools as the model requests them.
type Agent struct {
	llmClient llm.Client
	cfg       config.LLMConfig
	local     *tools.ToolManager
	observer  agent.Observer
	name      string

	mu         sync.RWMutex
	mcpClients []MCPClient
	mcpTools   map[string]MCPClient
	mcpPrompts []string
	llmTools   []openai.Tool
}

// Option customizes an Agent.
type Option func(*Agent)

// WithObserver reports every completion request to o.
func WithObserver(o agent.Observer) Option {
	return func(a *Agent) { a.observer = o }
}

// WithName sets the name used in logs and metrics.
func WithName(name string) Option {
	return func(a *Agent) { a.name = name }
}

// New creates an agent with the tools in local and connects to every MCP
// server in appCfg. Servers that fail to connect are logged and skipped.
func New(ctx context.Context, llmClient llm.Client, appCfg config.Config, local *tools.ToolManager, opts ...Option) *Agent {
	if local == nil {
		local = tools.NewToolManager()
	}
	a := &Agent{
		llmClient: llmClient,
		cfg:       appCfg.LLM,
		local:     local,
		name:      defaultName,
		mcpTools:  make(map[string]MCPClient),
		llmTools:  local.OpenAITools(),
	}
	for _, opt := range opts {
		opt(a)
	}

	connected := 0
	for _, serverCfg := range appCfg.MCPServers {
		c, err := dial(ctx, serverCfg)
		if err != nil {
			logger.L.Error("Failed to create MCP client", "name", serverCfg.Name, "error", err)
			continue
		}
		if err := a.AddMCPClient(ctx, serverCfg.Name, c); err != nil {
			logger.L.Error("Failed to initialize MCP client", "name", serverCfg.Name, "error", err)
			continue
		}
		connected++
	}
	if connected == 0 && len(appCfg.MCPServers) > 0 {
		logger.L.Warn("No MCP clients were initialized despite servers configured.", "configured", len(appCfg.MCPServers))
	}
	return a
}

// Close closes every MCP client.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, c := range a.mcpClients {
		errs = append(errs, c.Close())
	}
	a.mcpClients = nil
	return errors.Join(errs...)
}

// Tools returns the definitions offered to the model.
func (a *Agent) Tools() []openai.Tool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]openai.Tool(nil), a.llmTools...)
}

func (a *Agent) hasToolLocked(name string) bool {
	if _, ok := a.mcpTools[name]; ok {
		return true
	}
	_, err := a.local.GetTool(name)
	return err == nil
}

// SystemPrompt is the configured (or default) prompt followed by every
// prompt discovered on MCP servers.
func (a *Agent) SystemPrompt() string {
	base := a.cfg.SystemPrompt
	if base == "" {
		base = defaultSystemPrompt
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	parts := append([]string{base}, a.mcpPrompts...)
	return strings.Join(parts, "\n\n")
}

// Process answers request. When h is non-nil the exchange is appended to it
// and earlier messages are sent as context; a failed exchange leaves h as it was.
func (a *Agent) Process(ctx context.Context, h *history.History, request string) (string, error) {
	return a.process(ctx, h, request, nil)
}

// ProcessStream behaves like Process and forwards content deltas of every
// model reply to onDelta as they arrive.
func (a *Agent) ProcessStream(ctx context.Context, h *history.History, request string, onDelta func(string) error) (string, error) {
	if _, ok := a.llmClient.(llm.StreamClient); !ok {
		return "", ErrNoStream
	}
	if onDelta == nil {
		onDelta = func(string) error { return nil }
	}
	return a.process(ctx, h, request, onDelta)
}

type fsmContext struct {
	messages     []openai.ChatCompletionMessage
	llmResponse  *openai.ChatCompletionResponse
	finalContent string
	lastError    error
	currentTurn  int
	maxTurns     int
}

func (a *Agent) process(ctx context.Context, h *history.History, request string, onDelta func(string) error) (string, error) {
	if h == nil {
		h = history.New(0)
	}
	snapshot := h.Copy()
	h.InitializeTurn()
	if _, err := h.AddMessage(history.RoleUser, schema.BasicChatInput{ChatMessage: request}); err != nil {
		h.Restore(snapshot)
		return "", err
	}

	fsmCtx := &fsmContext{messages: a.initialMessages(h), maxTurns: a.cfg.MaxTurns}
	if fsmCtx.maxTurns <= 0 {
		fsmCtx.maxTurns = defaultMaxTurns
	}

	content, err := a.run(ctx, fsmCtx, onDelta)
	if err != nil {
		h.Restore(snapshot)
		return "", err
	}
	if _, err := h.AddMessage(history.RoleAssistant, schema.BasicChatOutput{ChatMessage: content}); err != nil {
		h.Restore(snapshot)
		return "", err
	}
	return content, nil
}

func (a *Agent) initialMessages(h *history.History) []openai.ChatCompletionMessage {
	role := a.cfg.SystemRole
	if role == "" {
		role = openai.ChatMessageRoleSystem
	}
	msgs := []openai.ChatCompletionMessage{{Role: role, Content: a.SystemPrompt()}}
	for _, m := range h.Messages() {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: ChatText(m)})
	}
	return msgs
}

// ChatText returns the chat_message of a message written by this agent, or
// its raw JSON content for anything else.
func ChatText(m history.Message) string {
	var body struct {
		ChatMessage *string `json:"chat_message"`
	}
	if err := json.Unmarshal(m.Content, &body); err == nil && body.ChatMessage != nil {
		return *body.ChatMessage
	}
	return m.Text()
}

func (a *Agent) run(ctx context.Context, fsmCtx *fsmContext, onDelta func(string) error) (string, error) {
	fsm := stateless.NewStateMachine(StateReadyToCallLLM)

	fsm.Configure(StateReadyToCallLLM).
		PermitReentry(TriggerProcessInput).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if fsmCtx.currentTurn >= fsmCtx.maxTurns {
				logger.L.Warn("Max interaction turns reached.", "maxTurns", fsmCtx.maxTurns)
				fsmCtx.lastError = ErrMaxTurns
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			fsmCtx.currentTurn++
			logger.L.Debug("FSM: Entering StateReadyToCallLLM", "turn", fsmCtx.currentTurn)

			resp, err := a.complete(ctx, fsmCtx.messages, onDelta)
			if err == nil && len(resp.Choices) == 0 {
				err = agent.ErrNoChoices
			}
			if err != nil {
				logger.L.Error("LLM call failed", "error", err)
				fsmCtx.lastError = err
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			fsmCtx.llmResponse = &resp

			if len(resp.Choices[0].Message.ToolCalls) > 0 {
				return fsm.FireCtx(ctx, TriggerLLMRequestedTools)
			}
			return fsm.FireCtx(ctx, TriggerLLMRespondedWithContent)
		}).
		Permit(TriggerLLMRequestedTools, StateExecutingTools).
		Permit(TriggerLLMRespondedWithContent, StateDone).
		Permit(TriggerErrorOccurred, StateError)

	fsm.Configure(StateExecutingTools).
		OnEntry(func(ctx context.Context, _ ...any) error {
			logger.L.Debug("FSM: Entering StateExecutingTools")
			msg := fsmCtx.llmResponse.Choices[0].Message
			if msg.Role == "" {
				msg.Role = openai.ChatMessageRoleAssistant
			}
			fsmCtx.messages = append(fsmCtx.messages, msg)
			for _, call := range msg.ToolCalls {
				fsmCtx.messages = append(fsmCtx.messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    a.executeTool(ctx, call),
					ToolCallID: call.ID,
					Name:       call.Function.Name,
				})
			}
			return fsm.FireCtx(ctx, TriggerToolsExecutionCompleted)
		}).
		Permit(TriggerToolsExecutionCompleted, StateReadyToCallLLM).
		Permit(TriggerErrorOccurred, StateError)

	fsm.Configure(StateDone).
		OnEntry(func(context.Context, ...any) error {
			logger.L.Debug("FSM: Entering StateDone")
			fsmCtx.finalContent = fsmCtx.llmResponse.Choices[0].Message.Content
			return nil
		})

	fsm.Configure(StateError).
		OnEntry(func(context.Context, ...any) error {
			logger.L.Debug("FSM: Entering StateError")
			if fsmCtx.lastError == nil {
				fsmCtx.lastError = errors.New("FSM: reached error state without a specific error")
			}
			return nil
		})

	if err := fsm.FireCtx(ctx, TriggerProcessInput); err != nil {
		if fsmCtx.lastError != nil {
			return "", fsmCtx.lastError
		}
		return "", fmt.Errorf("FSM error: %w", err)
	}

	state, err := fsm.State(ctx)
	if err != nil {
		return "", fmt.Errorf("FSM internal error: %w", err)
	}
	switch state {
	case StateDone:
		return fsmCtx.finalContent, nil
	case StateError:
		return "", fsmCtx.lastError
	}
	return "", fmt.Errorf("FSM ended in an unexpected state: %v", state)
}

// complete asks the model for the next reply, streaming when onDelta is set.
func (a *Agent) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, onDelta func(string) error) (openai.ChatCompletionResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		Messages:    msgs,
		Tools:       a.Tools(),
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}

	start := time.Now()
	var (
		resp openai.ChatCompletionResponse
		err  error
	)
	if onDelta != nil {
		resp, err = streamCompletion(ctx, a.llmClient.(llm.StreamClient), req, onDelta)
	} else {
		resp, err = a.llmClient.CreateChatCompletion(ctx, req)
	}
	if a.observer != nil {
		a.observer.ObserveRequest(a.name, a.cfg.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, err, time.Since(start))
	}
	return resp, err
}

// executeTool runs one tool call. Failures are returned as text so the model
// can react to them.
func (a *Agent) executeTool(ctx context.Context, call openai.ToolCall) string {
	name := call.Function.Name
	logger.L.Debug("Executing tool", "tool", name, "arguments", call.Function.Arguments)

	if t, err := a.local.GetTool(name); err == nil {
		out, err := t.Run(ctx, call.Function.Arguments)
		if err != nil {
			logger.L.Warn("Tool failed", "tool", name, "error", err)
			return fmt.Sprintf("Error: tool %s failed: %s", name, err)
		}
		return out
	}

	a.mu.RLock()
	c, ok := a.mcpTools[name]
	a.mu.RUnlock()
	if !ok {
		logger.L.Warn("LLM requested an unknown tool", "tool", name)
		return "Error: No tool named " + name + " is available"
	}
	return callMCPTool(ctx, c, name, call.Function.Arguments)
}
