package toolagent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/internal/logger"
)

// MCPClient is the part of an MCP client session the agent uses.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// dial creates and starts a client for one configured server. Stdio clients
// start their subprocess on creation.
func dial(ctx context.Context, serverCfg config.MCPServerConfig) (*client.Client, error) {
	var (
		c   *client.Client
		err error
	)
	switch serverCfg.Type {
	case config.ClientTypeSSE:
		var opts []transport.ClientOption
		if len(serverCfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(serverCfg.Headers))
		}
		c, err = client.NewSSEMCPClient(serverCfg.URL, opts...)
	case config.ClientTypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(serverCfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(serverCfg.Headers))
		}
		c, err = client.NewStreamableHttpClient(serverCfg.URL, opts...)
	case config.ClientTypeStdio:
		env := make([]string, 0, len(serverCfg.Env))
		for k, v := range serverCfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		c, err = client.NewStdioMCPClient(serverCfg.Command, env, serverCfg.Args...)
	case "":
		return nil, fmt.Errorf("mcp server %q: type not set (sse, streamable_http or stdio)", serverCfg.Name)
	default:
		return nil, fmt.Errorf("mcp server %q: unsupported type %q", serverCfg.Name, serverCfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if serverCfg.Type != config.ClientTypeStdio {
		if err := c.Start(ctx); err != nil {
			if cerr := c.Close(); cerr != nil {
				logger.L.Warn("MCP client close error after start failure", "name", serverCfg.Name, "error", cerr)
			}
			return nil, fmt.Errorf("start transport: %w", err)
		}
	}
	return c, nil
}

// AddMCPClient initializes c, collects its system prompt and registers its
// tools. Tools whose name is already taken are skipped. On error the client
// is closed and nothing is registered.
func (a *Agent) AddMCPClient(ctx context.Context, name string, c MCPClient) error {
	initResult, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: a.name, Version: "1.0.0"},
		},
	})
	if err != nil {
		if cerr := c.Close(); cerr != nil {
			logger.L.Warn("MCP client close error after init failure", "name", name, "error", cerr)
		}
		return fmt.Errorf("initialize %s: %w", name, err)
	}
	logger.L.Info("MCP server initialized", "name", name)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.mcpClients = append(a.mcpClients, c)

	if initResult != nil && initResult.Capabilities.Prompts != nil {
		if p := discoverPrompt(ctx, name, c); p != "" {
			a.mcpPrompts = append(a.mcpPrompts, p)
			logger.L.Info("Discovered system prompt from MCP server", "name", name)
		}
	}

	serverTools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		logger.L.Warn("Failed to list tools for MCP client", "name", name, "error", err)
		return nil
	}
	if serverTools == nil {
		logger.L.Warn("MCP client returned no tool list", "name", name)
		return nil
	}
	for _, t := range serverTools.Tools {
		if a.hasToolLocked(t.Name) {
			logger.L.Warn("Tool already registered; skipping", "tool", t.Name, "name", name)
			continue
		}
		a.mcpTools[t.Name] = c
		a.llmTools = append(a.llmTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toolSchema(t),
			},
		})
		logger.L.Info("Registered tool from MCP server", "tool", t.Name, "name", name)
	}
	return nil
}

// discoverPrompt returns the assistant text of the server's first prompt that
// takes no arguments, or "".
func discoverPrompt(ctx context.Context, name string, c MCPClient) string {
	prompts, err := c.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil || prompts == nil {
		logger.L.Warn("Failed to list prompts", "name", name, "error", err)
		return ""
	}
	i := slices.IndexFunc(prompts.Prompts, func(p mcp.Prompt) bool { return len(p.Arguments) == 0 })
	if i == -1 {
		return ""
	}
	got, err := c.GetPrompt(ctx, mcp.GetPromptRequest{Params: mcp.GetPromptParams{Name: prompts.Prompts[i].Name}})
	if err != nil || got == nil {
		logger.L.Warn("Failed to get prompt", "name", name, "prompt", prompts.Prompts[i].Name, "error", err)
		return ""
	}
	for _, m := range got.Messages {
		if m.Role != mcp.RoleAssistant {
			continue
		}
		if text, ok := m.Content.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

func toolSchema(t mcp.Tool) json.RawMessage {
	if len(t.RawInputSchema) > 0 && string(t.RawInputSchema) != "null" {
		return t.RawInputSchema
	}
	if t.InputSchema.Type == "" {
		return emptyObjectSchema
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil || string(b) == "{}" || string(b) == "null" {
		return emptyObjectSchema
	}
	return b
}

// callMCPTool runs a tool on its server and flattens the result to text.
func callMCPTool(ctx context.Context, c MCPClient, name, rawArgs string) string {
	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			logger.L.Error("Failed to unmarshal tool arguments", "tool", name, "error", err)
			return "Error: Could not parse arguments for tool " + name
		}
	}

	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		logger.L.Warn("MCP CallTool failed", "tool", name, "error", err)
		return fmt.Sprintf("Error: tool %s failed: %s", name, err)
	}
	if res == nil {
		return fmt.Sprintf("Error: tool %s returned no result", name)
	}

	text := firstText(res.Content)
	if res.IsError {
		logger.L.Warn("MCP tool reported an error", "tool", name, "content", text)
		if text == "" {
			return "Error: tool execution resulted in an error without specific text."
		}
		return "Error: " + text
	}
	if text != "" {
		return text
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "Tool executed successfully, but result could not be formatted."
	}
	return string(b)
}

func firstText(content []mcp.Content) string {
	for _, item := range content {
		if t, ok := item.(mcp.TextContent); ok {
			return t.Text
		}
	}
	return ""
}
