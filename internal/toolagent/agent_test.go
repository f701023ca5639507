package toolagent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/pkg/history"
	"github.com/comigor/atomic-agents/pkg/schema"
	"github.com/comigor/atomic-agents/pkg/tools"
)

type mockMCPClient struct {
	InitializeFunc  func(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListToolsFunc   func(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	ListPromptsFunc func(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	GetPromptFunc   func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	CallToolFunc    func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	closed          bool
}

func (m *mockMCPClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, req)
	}
	return &mcp.InitializeResult{}, nil
}

func (m *mockMCPClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if m.ListToolsFunc != nil {
		return m.ListToolsFunc(ctx, req)
	}
	return &mcp.ListToolsResult{Tools: []mcp.Tool{}}, nil
}

func (m *mockMCPClient) ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
	if m.ListPromptsFunc != nil {
		return m.ListPromptsFunc(ctx, req)
	}
	return &mcp.ListPromptsResult{}, nil
}

func (m *mockMCPClient) GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if m.GetPromptFunc != nil {
		return m.GetPromptFunc(ctx, req)
	}
	return nil, errors.New("no prompt")
}

func (m *mockMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if m.CallToolFunc != nil {
		return m.CallToolFunc(ctx, req)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "mock default success for " + req.Params.Name}},
	}, nil
}

func (m *mockMCPClient) Close() error {
	m.closed = true
	return nil
}

type mockLLM struct {
	mu       sync.Mutex
	calls    []openai.ChatCompletionResponse
	requests []openai.ChatCompletionRequest
	err      error
	// repeat replays the last response forever
	repeat bool
}

func (m *mockLLM) CreateChatCompletion(_ context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, r)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	if len(m.calls) == 0 {
		panic("mockLLM: no more responses configured")
	}
	resp := m.calls[0]
	if !m.repeat || len(m.calls) > 1 {
		m.calls = m.calls[1:]
	}
	return resp, nil
}

type recordingObserver struct {
	names []string
	errs  []error
}

func (r *recordingObserver) ObserveRequest(agentName, _ string, _, _ int, err error, _ time.Duration) {
	r.names = append(r.names, agentName)
	r.errs = append(r.errs, err)
}

func contentResponse(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
	}}}
}

func toolCallResponse(id, name, args string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:       id,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: name, Arguments: args},
			}},
		},
	}}}
}

func weatherClient(t *testing.T, result string) *mockMCPClient {
	return &mockMCPClient{
		ListToolsFunc: func(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
			return &mcp.ListToolsResult{Tools: []mcp.Tool{
				{Name: "get_weather", Description: "Gets weather", RawInputSchema: json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}}}`)},
			}}, nil
		},
		CallToolFunc: func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			require.Equal(t, "get_weather", req.Params.Name)
			require.Equal(t, map[string]any{"location": "London"}, req.Params.Arguments)
			return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: result}}}, nil
		},
	}
}

func lastToolMessage(t *testing.T, req openai.ChatCompletionRequest) openai.ChatCompletionMessage {
	t.Helper()
	last := req.Messages[len(req.Messages)-1]
	require.Equal(t, openai.ChatMessageRoleTool, last.Role)
	return last
}

func TestProcess_LLMRespondsDirectly(t *testing.T) {
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{contentResponse("Hello, I am a helpful AI.")}}
	obs := &recordingObserver{}
	a := New(context.Background(), llmClient, config.Config{LLM: config.LLMConfig{Model: "gpt"}}, nil, WithObserver(obs))
	require.Empty(t, a.Tools())

	h := history.New(0)
	out, err := a.Process(context.Background(), h, "User says hi")
	require.NoError(t, err)
	require.Equal(t, "Hello, I am a helpful AI.", out)

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, history.RoleUser, msgs[0].Role)
	require.JSONEq(t, `{"chat_message":"User says hi"}`, string(msgs[0].Content))
	require.Equal(t, "Hello, I am a helpful AI.", ChatText(msgs[1]))
	require.Equal(t, msgs[0].TurnID, msgs[1].TurnID)

	req := llmClient.requests[0]
	require.Equal(t, "gpt", req.Model)
	require.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	require.Equal(t, defaultSystemPrompt, req.Messages[0].Content)
	require.Equal(t, "User says hi", req.Messages[1].Content)

	require.Equal(t, []string{defaultName}, obs.names)
	require.Equal(t, []error{nil}, obs.errs)
}

func TestProcess_SendsEarlierTurns(t *testing.T) {
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{contentResponse("first"), contentResponse("second")}}
	a := New(context.Background(), llmClient, config.Config{LLM: config.LLMConfig{SystemPrompt: "Be brief."}}, nil)

	h := history.New(0)
	_, err := a.Process(context.Background(), h, "one")
	require.NoError(t, err)
	_, err = a.Process(context.Background(), h, "two")
	require.NoError(t, err)

	msgs := llmClient.requests[1].Messages
	require.Len(t, msgs, 4)
	require.Equal(t, "Be brief.", msgs[0].Content)
	require.Equal(t, "one", msgs[1].Content)
	require.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	require.Equal(t, "first", msgs[2].Content)
	require.Equal(t, "two", msgs[3].Content)
	require.Equal(t, 4, h.Count())
}

func TestProcess_MCPToolSuccess(t *testing.T) {
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
		toolCallResponse("call_123", "get_weather", `{"location": "London"}`),
		contentResponse("Based on the weather tool, it's sunny in London."),
	}}
	a := New(context.Background(), llmClient, config.Config{LLM: config.LLMConfig{Model: "gpt"}}, nil)
	require.NoError(t, a.AddMCPClient(context.Background(), "weather", weatherClient(t, "The weather in London is sunny.")))

	defs := a.Tools()
	require.Len(t, defs, 1)
	require.Equal(t, "get_weather", defs[0].Function.Name)

	out, err := a.Process(context.Background(), nil, "What's the weather in London?")
	require.NoError(t, err)
	require.Equal(t, "Based on the weather tool, it's sunny in London.", out)

	require.Len(t, llmClient.requests, 2)
	second := llmClient.requests[1]
	require.Len(t, second.Tools, 1)
	toolMsg := lastToolMessage(t, second)
	require.Equal(t, "call_123", toolMsg.ToolCallID)
	require.Equal(t, "The weather in London is sunny.", toolMsg.Content)
	assistant := second.Messages[len(second.Messages)-2]
	require.Equal(t, openai.ChatMessageRoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
}

func TestProcess_MCPToolFailuresBecomeToolResults(t *testing.T) {
	cases := map[string]struct {
		call func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args string
		want string
	}{
		"transport error": {
			call: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, errors.New("MCP tool execution failed badly.")
			},
			args: `{}`,
			want: "Error: tool broken_tool failed: MCP tool execution failed badly.",
		},
		"tool error result": {
			call: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultError("disk on fire"), nil
			},
			args: `{}`,
			want: "Error: disk on fire",
		},
		"bad arguments": {
			args: `{not json`,
			want: "Error: Could not parse arguments for tool broken_tool",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
				toolCallResponse("call_456", "broken_tool", tc.args),
				contentResponse("Sorry, the tool failed."),
			}}
			a := New(context.Background(), llmClient, config.Config{}, nil)
			require.NoError(t, a.AddMCPClient(context.Background(), "broken", &mockMCPClient{
				ListToolsFunc: func(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
					return &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "broken_tool", Description: "A tool that is broken"}}}, nil
				},
				CallToolFunc: tc.call,
			}))

			out, err := a.Process(context.Background(), nil, "Use the broken tool")
			require.NoError(t, err)
			require.Equal(t, "Sorry, the tool failed.", out)
			require.Equal(t, tc.want, lastToolMessage(t, llmClient.requests[1]).Content)
		})
	}
}

func TestProcess_LocalToolAndCollisions(t *testing.T) {
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
		toolCallResponse("c1", "calculate", `{"expression":"6 * 7"}`),
		contentResponse("42"),
	}}
	a := New(context.Background(), llmClient, config.Config{}, tools.NewToolManager(tools.NewCalculator()))

	remote := &mockMCPClient{
		ListToolsFunc: func(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
			return &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "calculate"}, {Name: "remote_only"}}}, nil
		},
		CallToolFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			t.Fatal("local tool should win the name collision")
			return nil, nil
		},
	}
	require.NoError(t, a.AddMCPClient(context.Background(), "remote", remote))

	names := []string{}
	for _, d := range a.Tools() {
		names = append(names, d.Function.Name)
	}
	require.Equal(t, []string{"calculate", "remote_only"}, names)
	require.JSONEq(t, `{"type":"object","properties":{}}`, string(a.Tools()[1].Function.Parameters.(json.RawMessage)))

	out, err := a.Process(context.Background(), nil, "what is 6 times 7?")
	require.NoError(t, err)
	require.Equal(t, "42", out)
	require.JSONEq(t, `{"result":"42"}`, lastToolMessage(t, llmClient.requests[1]).Content)
}

func TestProcess_UnknownAndFailingLocalTool(t *testing.T) {
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
		toolCallResponse("c1", "nope", `{}`),
		toolCallResponse("c2", "calculate", `{"expression":"1 +"}`),
		contentResponse("done"),
	}}
	a := New(context.Background(), llmClient, config.Config{}, tools.NewToolManager(tools.NewCalculator()))

	_, err := a.Process(context.Background(), nil, "go")
	require.NoError(t, err)
	require.Equal(t, "Error: No tool named nope is available", lastToolMessage(t, llmClient.requests[1]).Content)
	require.Contains(t, lastToolMessage(t, llmClient.requests[2]).Content, "Error: tool calculate failed")
}

func TestProcess_LLMErrorRollsBackHistory(t *testing.T) {
	obs := &recordingObserver{}
	a := New(context.Background(), &mockLLM{err: context.DeadlineExceeded}, config.Config{}, nil, WithObserver(obs), WithName("chat"))

	h := history.New(0)
	_, err := a.Process(context.Background(), h, "hi")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, h.Count())
	require.Equal(t, []string{"chat"}, obs.names)
	require.ErrorIs(t, obs.errs[0], context.DeadlineExceeded)
}

func TestProcess_FailureKeepsWindowedHistory(t *testing.T) {
	a := New(context.Background(), &mockLLM{err: errors.New("llm down")}, config.Config{}, nil)

	h := history.New(2)
	h.InitializeTurn()
	_, err := h.AddMessage(history.RoleUser, schema.BasicChatInput{ChatMessage: "earlier"})
	require.NoError(t, err)
	_, err = h.AddMessage(history.RoleAssistant, schema.BasicChatOutput{ChatMessage: "reply"})
	require.NoError(t, err)
	before := h.Messages()

	_, err = a.Process(context.Background(), h, "hi")
	require.Error(t, err)
	require.Equal(t, before, h.Messages())
}

func TestProcess_NoChoices(t *testing.T) {
	a := New(context.Background(), &mockLLM{calls: []openai.ChatCompletionResponse{{}}}, config.Config{}, nil)
	_, err := a.Process(context.Background(), nil, "hi")
	require.Error(t, err)
}

func TestProcess_MaxTurns(t *testing.T) {
	llmClient := &mockLLM{
		calls:  []openai.ChatCompletionResponse{toolCallResponse("c", "calculate", `{"expression":"1"}`)},
		repeat: true,
	}
	a := New(context.Background(), llmClient, config.Config{LLM: config.LLMConfig{MaxTurns: 3}}, tools.NewToolManager(tools.NewCalculator()))

	h := history.New(0)
	_, err := a.Process(context.Background(), h, "loop forever")
	require.ErrorIs(t, err, ErrMaxTurns)
	require.Len(t, llmClient.requests, 3)
	require.Zero(t, h.Count())
}

func TestAddMCPClient_DiscoversPrompt(t *testing.T) {
	c := &mockMCPClient{
		InitializeFunc: func(context.Context, mcp.InitializeRequest) (*mcp.InitializeResult, error) {
			res := &mcp.InitializeResult{}
			err := json.Unmarshal([]byte(`{"protocolVersion":"2025-03-26","capabilities":{"prompts":{}},"serverInfo":{"name":"lights","version":"1"}}`), res)
			return res, err
		},
		ListPromptsFunc: func(context.Context, mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
			return &mcp.ListPromptsResult{Prompts: []mcp.Prompt{
				{Name: "templated", Arguments: []mcp.PromptArgument{{Name: "topic"}}},
				{Name: "system"},
			}}, nil
		},
		GetPromptFunc: func(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			require.Equal(t, "system", req.Params.Name)
			return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{
				{Role: mcp.RoleUser, Content: mcp.TextContent{Type: "text", Text: "ignored"}},
				{Role: mcp.RoleAssistant, Content: mcp.TextContent{Type: "text", Text: "You control the lights."}},
			}}, nil
		},
	}
	a := New(context.Background(), &mockLLM{}, config.Config{LLM: config.LLMConfig{SystemPrompt: "Base."}}, nil)
	require.NoError(t, a.AddMCPClient(context.Background(), "lights", c))
	require.Equal(t, "Base.\n\nYou control the lights.", a.SystemPrompt())

	require.NoError(t, a.Close())
	require.True(t, c.closed)
}

func TestAddMCPClient_NilResults(t *testing.T) {
	c := &mockMCPClient{
		InitializeFunc: func(context.Context, mcp.InitializeRequest) (*mcp.InitializeResult, error) {
			return nil, nil
		},
		ListToolsFunc: func(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
			return nil, nil
		},
	}
	a := New(context.Background(), &mockLLM{}, config.Config{}, nil)
	require.NoError(t, a.AddMCPClient(context.Background(), "empty", c))
	require.Empty(t, a.Tools())
}

func TestAddMCPClient_InitializeFailureCloses(t *testing.T) {
	c := &mockMCPClient{
		InitializeFunc: func(context.Context, mcp.InitializeRequest) (*mcp.InitializeResult, error) {
			return nil, errors.New("handshake")
		},
	}
	a := New(context.Background(), &mockLLM{}, config.Config{}, nil)
	require.Error(t, a.AddMCPClient(context.Background(), "bad", c))
	require.True(t, c.closed)
	require.Empty(t, a.Tools())
}

func TestNew_SkipsMisconfiguredServers(t *testing.T) {
	cfg := config.Config{MCPServers: []config.MCPServerConfig{
		{Name: "untyped"},
		{Name: "weird", Type: "carrier-pigeon"},
	}}
	a := New(context.Background(), &mockLLM{}, cfg, nil)
	require.Empty(t, a.Tools())
	require.NoError(t, a.Close())
}
