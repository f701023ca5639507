// Package research answers questions from the web: one agent writes search
// queries, the results are scraped, and a second agent answers from the
// scraped pages.
package research

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/comigor/atomic-agents/internal/llm"
	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/pkg/agent"
	"github.com/comigor/atomic-agents/pkg/prompt"
	"github.com/comigor/atomic-agents/pkg/tools"
)

// ErrNoResults is returned when none of the generated queries found a page.
var ErrNoResults = errors.New("research: search returned no results")

// QueryInput asks the query agent for search queries.
type QueryInput struct {
	Instruction string `json:"instruction" jsonschema:"description=A detailed instruction or request to generate search engine queries for." validate:"required"`
	NumQueries  int    `json:"num_queries" jsonschema:"description=The number of search queries to generate." validate:"min=1,max=10"`
}

// QueryOutput holds the generated queries.
type QueryOutput struct {
	Queries []string `json:"queries" jsonschema:"description=Search queries relevant to the instruction." validate:"required,min=1,dive,required"`
}

// AnswerInput is the user's question.
type AnswerInput struct {
	Question string `json:"question" jsonschema:"description=The question to answer." validate:"required"`
}

// AnswerOutput is the final answer.
type AnswerOutput struct {
	Markdown          string   `json:"markdown_output" jsonschema:"description=The answer to the question in markdown format." validate:"required"`
	References        []string `json:"references" jsonschema:"description=URLs of the sources used to answer the question."`
	FollowUpQuestions []string `json:"followup_questions" jsonschema:"description=Follow-up questions the user could ask next."`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, in tools.SearXNGInput, maxResults int) (tools.SearXNGOutput, error)
}

// Fetcher scrapes pages concurrently, mapping each URL to its content or an error text.
type Fetcher interface {
	ScrapeMany(ctx context.Context, urls []string) map[string]string
}

// Config configures a Pipeline.
type Config struct {
	Client      llm.Client
	Model       string
	Temperature float32
	Observer    agent.Observer
	Search      Searcher
	Fetcher     Fetcher
	// NumQueries defaults to 3 and MaxResults to 3.
	NumQueries int
	MaxResults int
	Now        func() time.Time
}

// Result is the answer plus what it was built from.
type Result struct {
	Queries []string
	Sources []tools.SearchResult
	Answer  AnswerOutput
}

// Pipeline wires the query agent, search, scraping and the answer agent.
type Pipeline struct {
	cfg     Config
	queries *agent.Agent[QueryInput, QueryOutput]
	answers *agent.Agent[AnswerInput, AnswerOutput]
	content *ScrapedContent
}

// New builds the two agents.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Search == nil || cfg.Fetcher == nil {
		return nil, errors.New("research: search and fetcher are required")
	}
	if cfg.NumQueries <= 0 {
		cfg.NumQueries = 3
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	queries, err := agent.New[QueryInput, QueryOutput](agent.Config{
		Name:        "query_agent",
		Client:      cfg.Client,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Observer:    cfg.Observer,
		SystemPrompt: prompt.NewGenerator(
			[]string{
				"You are an expert search engine query generator with a deep understanding of which queries will maximize the number of relevant results.",
			},
			[]string{
				"Analyze the given instruction to identify key concepts and aspects that need to be researched.",
				"For each aspect, craft a search query using appropriate search operators and syntax.",
				"Ensure queries cover different angles of the topic (technical, practical, comparative, etc.).",
			},
			[]string{
				"Return exactly the requested number of queries.",
				"Format each query like a search engine query, not a natural language question.",
				"Each query should be a concise string of keywords and operators.",
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}

	answers, err := agent.New[AnswerInput, AnswerOutput](agent.Config{
		Name:        "answer_agent",
		Client:      cfg.Client,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Observer:    cfg.Observer,
		SystemPrompt: prompt.NewGenerator(
			[]string{
				"You are an expert research assistant who answers questions using only the scraped web content provided to you.",
			},
			[]string{
				"Read the scraped content and pick the passages relevant to the question.",
				"Write a clear, well-structured answer in markdown.",
				"List the URLs of the sources you used.",
			},
			[]string{
				"Cite only URLs that appear in the scraped content.",
				"Say so when the scraped content does not answer the question.",
				"Suggest up to three follow-up questions.",
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("answer agent: %w", err)
	}

	p := &Pipeline{cfg: cfg, queries: queries, answers: answers, content: &ScrapedContent{}}
	answers.RegisterContextProvider("current_date", prompt.FuncProvider{
		Name: "Current date",
		Fn:   func() string { return cfg.Now().Format("2006-01-02") },
	})
	answers.RegisterContextProvider("scraped_content", p.content)
	return p, nil
}

// Ask runs the whole pipeline for one question.
func (p *Pipeline) Ask(ctx context.Context, question string) (Result, error) {
	q, err := p.queries.Run(ctx, QueryInput{Instruction: question, NumQueries: p.cfg.NumQueries})
	if err != nil {
		return Result{}, fmt.Errorf("generating queries: %w", err)
	}
	logger.L.Info("research queries generated", "queries", q.Queries)

	found, err := p.cfg.Search.Search(ctx, tools.SearXNGInput{Queries: q.Queries}, p.cfg.MaxResults)
	if err != nil {
		return Result{}, fmt.Errorf("searching: %w", err)
	}
	if len(found.Results) == 0 {
		return Result{Queries: q.Queries}, ErrNoResults
	}

	urls := make([]string, 0, len(found.Results))
	for _, r := range found.Results {
		urls = append(urls, r.URL)
	}
	pages := p.cfg.Fetcher.ScrapeMany(ctx, urls)
	p.content.Set(pages)
	logger.L.Info("research pages scraped", "pages", len(pages))

	answer, err := p.answers.Run(ctx, AnswerInput{Question: question})
	if err != nil {
		return Result{}, fmt.Errorf("answering: %w", err)
	}
	return Result{Queries: q.Queries, Sources: found.Results, Answer: answer}, nil
}

// Reset clears both agents' histories and the scraped content.
func (p *Pipeline) Reset() {
	p.queries.ResetHistory()
	p.answers.ResetHistory()
	p.content.Set(nil)
}

// ScrapedContent renders the latest scraped pages into the answer agent's prompt.
type ScrapedContent struct {
	mu    sync.RWMutex
	pages map[string]string
}

// Set replaces the pages.
func (c *ScrapedContent) Set(pages map[string]string) {
	c.mu.Lock()
	c.pages = pages
	c.mu.Unlock()
}

func (c *ScrapedContent) Title() string { return "Scraped Content" }

// Info lists the pages sorted by URL.
func (c *ScrapedContent) Info() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.pages) == 0 {
		return "No content scraped yet."
	}
	urls := make([]string, 0, len(c.pages))
	for u := range c.pages {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	var b strings.Builder
	for i, u := range urls {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Source: %s\n%s", u, c.pages[u])
	}
	return b.String()
}
