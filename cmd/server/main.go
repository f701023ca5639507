package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/internal/llm"
	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/internal/metrics"
	"github.com/comigor/atomic-agents/internal/server"
	"github.com/comigor/atomic-agents/internal/toolagent"
	"github.com/comigor/atomic-agents/internal/toolbox"
	"github.com/comigor/atomic-agents/pkg/history"
)

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.NewRecorder()
	tb := toolbox.New(cfg.Tools)
	agent := toolagent.New(ctx, llm.NewClient(cfg.LLM), *cfg, tb.Manager, toolagent.WithObserver(rec))
	defer agent.Close()

	sessions := server.NewSessions(history.NewSQLiteStore(cfg.History.DBPath), cfg.History.MaxMessages)
	defer sessions.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           server.New(agent, sessions, rec).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("Starting server", "addr", srv.Addr, "model", cfg.LLM.Model, "tools", len(agent.Tools()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.L.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logger.L.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("graceful shutdown failed", "error", err)
	}
}
