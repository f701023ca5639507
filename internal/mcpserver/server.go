// Package mcpserver exposes registered tools over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/pkg/tools"
)

// New creates an MCP server with one MCP tool per registered tool.
func New(name, version string, m *tools.ToolManager) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range m.List() {
		s.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), t.Parameters()), Handler(t))
		logger.L.Debug("mcp tool registered", "tool", t.Name())
	}
	return s
}

// Handler adapts a tool to an MCP tool handler. Tool failures are reported as
// error results so the calling model can read them.
func Handler(t tools.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		logger.L.Info("mcp tool call", "tool", t.Name())
		out, err := t.Run(ctx, string(args))
		if err != nil {
			logger.L.Warn("mcp tool failed", "tool", t.Name(), "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
