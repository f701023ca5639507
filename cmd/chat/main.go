package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/internal/llm"
	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/internal/toolagent"
	"github.com/comigor/atomic-agents/internal/toolbox"
	"github.com/comigor/atomic-agents/pkg/history"
)

var noTools bool

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the tool-calling agent in the terminal",
	Long: `chat streams replies from the configured LLM. The agent can call the bundled
tools and the tools of every configured MCP server.

Type /reset to start over, exit or quit to leave.`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger.SetOutput(os.Stderr)
		logger.SetLevel(cfg.LogLevel)

		ctx := cmd.Context()
		local := toolbox.New(cfg.Tools).Manager
		if noTools {
			local = nil
			cfg.MCPServers = nil
		}
		a := toolagent.New(ctx, llm.NewClient(cfg.LLM), *cfg, local, toolagent.WithName("chat"))
		defer a.Close()

		out := cmd.OutOrStdout()
		h := history.New(cfg.History.MaxMessages)
		fmt.Fprintf(out, "Chatting with %s (%d tools). Type exit to quit.\n", cfg.LLM.Model, len(a.Tools()))

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "\nYou: ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch strings.ToLower(line) {
			case "":
				continue
			case "exit", "quit":
				return nil
			case "/reset":
				h.Reset()
				fmt.Fprintln(out, "History cleared.")
				continue
			}

			fmt.Fprint(out, "Assistant: ")
			_, err := a.ProcessStream(ctx, h, line, func(delta string) error {
				_, err := fmt.Fprint(out, delta)
				return err
			})
			fmt.Fprintln(out)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(out, "Error: %v\n", err)
			}
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&noTools, "no-tools", false, "chat without local or MCP tools")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
