package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/internal/llm"
	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/internal/research"
	"github.com/comigor/atomic-agents/internal/toolbox"
)

var (
	numQueries int
	maxResults int
)

var rootCmd = &cobra.Command{
	Use:   "research [question]",
	Short: "Answer questions from web search results",
	Long: `research generates search queries for a question, searches SearXNG, scrapes
the top results and answers from the scraped pages.

Without a question it reads questions from stdin until "exit".`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger.SetOutput(os.Stderr)
		logger.SetLevel(cfg.LogLevel)

		tb := toolbox.New(cfg.Tools)
		p, err := research.New(research.Config{
			Client:      llm.NewClient(cfg.LLM),
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Search:      tb.Search,
			Fetcher:     tb.Scraper,
			NumQueries:  numQueries,
			MaxResults:  maxResults,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(args) > 0 {
			return ask(cmd.Context(), p, out, strings.Join(args, " "))
		}
		return loop(cmd.Context(), p, cmd.InOrStdin(), out)
	},
}

func loop(ctx context.Context, p *research.Pipeline, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nQuestion: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(q) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := ask(ctx, p, out, q); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func ask(ctx context.Context, p *research.Pipeline, out io.Writer, question string) error {
	res, err := p.Ask(ctx, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nSearch queries:")
	for _, q := range res.Queries {
		fmt.Fprintf(out, "  - %s\n", q)
	}
	fmt.Fprintf(out, "\n%s\n", res.Answer.Markdown)
	if len(res.Answer.References) > 0 {
		fmt.Fprintln(out, "\nReferences:")
		for _, r := range res.Answer.References {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	if len(res.Answer.FollowUpQuestions) > 0 {
		fmt.Fprintln(out, "\nFollow-up questions:")
		for i, q := range res.Answer.FollowUpQuestions {
			fmt.Fprintf(out, "  %d. %s\n", i+1, q)
		}
	}
	return nil
}

func init() {
	rootCmd.Flags().IntVarP(&numQueries, "queries", "q", 3, "number of search queries to generate")
	rootCmd.Flags().IntVarP(&maxResults, "results", "n", 3, "number of search results to scrape")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
