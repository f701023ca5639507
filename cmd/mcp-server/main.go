package main

import (
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/internal/mcpserver"
	"github.com/comigor/atomic-agents/internal/toolbox"
)

const version = "0.1.0"

func main() {
	// stdout carries the protocol.
	logger.SetOutput(os.Stderr)

	if err := config.LoadDotEnv(); err != nil {
		logger.L.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	tb := toolbox.New(cfg.Tools)
	s := mcpserver.New("atomic-tools", version, tb.Manager)

	logger.L.Info("serving MCP over stdio", "tools", len(tb.Manager.List()))
	if err := server.ServeStdio(s); err != nil {
		logger.L.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
