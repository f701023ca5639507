package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/comigor/atomic-agents/internal/assembler"
	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/internal/logger"
)

var (
	devMode bool
	repoURL string
	branch  string
	manager *assembler.Manager
)

var rootCmd = &cobra.Command{
	Use:   "atomic-assembler",
	Short: "Browse and install tools from the atomic-forge repository",
	Long: `atomic-assembler clones the tools repository into a local folder and lets you
list tools, read their documentation and copy them into your project.

Run without a subcommand for an interactive menu.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger.SetOutput(os.Stderr)
		logger.SetLevel(cfg.LogLevel)

		if repoURL != "" {
			cfg.Assembler.RepoURL = repoURL
		}
		if branch != "" {
			cfg.Assembler.Branch = branch
		}
		manager = assembler.New(cfg.Assembler, assembler.GitCloner{Stdout: os.Stderr, Stderr: os.Stderr})
		if devMode {
			if err := manager.Reset(); err != nil {
				return fmt.Errorf("resetting local tools folder: %w", err)
			}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return assembler.NewMenu(manager, cmd.InOrStdin(), cmd.OutOrStdout()).Run(cmd.Context())
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := manager.Ensure(cmd.Context()); err != nil {
			return err
		}
		tools, err := manager.List()
		if err != nil {
			return fmt.Errorf("listing tools: %w", err)
		}
		assembler.PrintTools(cmd.OutOrStdout(), tools)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <tool>",
	Short: "Show a tool's metadata and README",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.Ensure(cmd.Context()); err != nil {
			return err
		}
		t, err := manager.Find(args[0])
		if err != nil {
			return err
		}
		assembler.PrintInfo(cmd.OutOrStdout(), t, manager.Readme(t))
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <tool> [dest]",
	Short: "Copy a tool into dest (default: current directory)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.Ensure(cmd.Context()); err != nil {
			return err
		}
		t, err := manager.Find(args[0])
		if err != nil {
			return err
		}
		dest := "."
		if len(args) == 2 {
			dest = args[1]
		}
		path, err := manager.Download(t, dest)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s to %s\n", t.Name, path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&devMode, "devmode", false, "delete the local tools folder and clone it again")
	rootCmd.PersistentFlags().StringVar(&repoURL, "repo", "", "tools repository URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&branch, "branch", "", "tools repository branch (overrides config)")
	rootCmd.AddCommand(listCmd, infoCmd, downloadCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
