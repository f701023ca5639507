package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/atomic-agents/pkg/tools"
)

type mockLLM struct {
	replies  []string
	requests []openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(_ context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.requests = append(m.requests, r)
	if len(m.replies) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("no more replies")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: reply}}},
	}, nil
}

type fakeSearch struct {
	in      tools.SearXNGInput
	max     int
	results []tools.SearchResult
	err     error
}

func (f *fakeSearch) Search(_ context.Context, in tools.SearXNGInput, maxResults int) (tools.SearXNGOutput, error) {
	f.in, f.max = in, maxResults
	return tools.SearXNGOutput{Results: f.results}, f.err
}

type fakeFetcher struct {
	urls []string
}

func (f *fakeFetcher) ScrapeMany(_ context.Context, urls []string) map[string]string {
	f.urls = urls
	out := map[string]string{}
	for _, u := range urls {
		out[u] = "content of " + u
	}
	out["https://b.example"] = "Error scraping https://b.example: timeout"
	return out
}

func newPipeline(t *testing.T, llm *mockLLM, search *fakeSearch, fetcher *fakeFetcher) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Client:  llm,
		Model:   "gpt-test",
		Search:  search,
		Fetcher: fetcher,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return p
}

func TestAsk(t *testing.T) {
	llm := &mockLLM{replies: []string{
		`{"queries":["go generics tutorial","go type parameters"]}`,
		`{"markdown_output":"Use type parameters.","references":["https://a.example"],"followup_questions":["What about constraints?"]}`,
	}}
	search := &fakeSearch{results: []tools.SearchResult{
		{URL: "https://a.example", Title: "A"},
		{URL: "https://b.example", Title: "B"},
	}}
	fetcher := &fakeFetcher{}
	p := newPipeline(t, llm, search, fetcher)

	res, err := p.Ask(context.Background(), "How do Go generics work?")
	require.NoError(t, err)
	require.Equal(t, []string{"go generics tutorial", "go type parameters"}, res.Queries)
	require.Equal(t, "Use type parameters.", res.Answer.Markdown)
	require.Equal(t, []string{"https://a.example"}, res.Answer.References)
	require.Len(t, res.Sources, 2)

	require.Equal(t, res.Queries, search.in.Queries)
	require.Equal(t, 3, search.max)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, fetcher.urls)

	require.Len(t, llm.requests, 2)
	require.Contains(t, llm.requests[0].Messages[1].Content, `"num_queries":3`)
	system := llm.requests[1].Messages[0].Content
	require.Contains(t, system, "## Current date\n2026-03-01")
	require.Contains(t, system, "## Scraped Content\nSource: https://a.example\ncontent of https://a.example\n\nSource: https://b.example\nError scraping https://b.example: timeout")
	require.Contains(t, llm.requests[1].Messages[1].Content, "How do Go generics work?")
}

func TestAsk_Failures(t *testing.T) {
	t.Run("no results", func(t *testing.T) {
		llm := &mockLLM{replies: []string{`{"queries":["q"]}`}}
		fetcher := &fakeFetcher{}
		p := newPipeline(t, llm, &fakeSearch{}, fetcher)
		res, err := p.Ask(context.Background(), "anything")
		require.ErrorIs(t, err, ErrNoResults)
		require.Equal(t, []string{"q"}, res.Queries)
		require.Nil(t, fetcher.urls)
	})

	t.Run("search error", func(t *testing.T) {
		llm := &mockLLM{replies: []string{`{"queries":["q"]}`}}
		p := newPipeline(t, llm, &fakeSearch{err: errors.New("status 500")}, &fakeFetcher{})
		_, err := p.Ask(context.Background(), "anything")
		require.ErrorContains(t, err, "searching: status 500")
	})

	t.Run("invalid queries", func(t *testing.T) {
		llm := &mockLLM{replies: []string{`{"queries":[]}`}}
		p := newPipeline(t, llm, &fakeSearch{}, &fakeFetcher{})
		_, err := p.Ask(context.Background(), "anything")
		require.ErrorContains(t, err, "generating queries")
	})
}

func TestReset(t *testing.T) {
	llm := &mockLLM{replies: []string{
		`{"queries":["q"]}`,
		`{"markdown_output":"ok","references":[],"followup_questions":[]}`,
	}}
	p := newPipeline(t, llm, &fakeSearch{results: []tools.SearchResult{{URL: "https://a.example", Title: "A"}}}, &fakeFetcher{})
	_, err := p.Ask(context.Background(), "question")
	require.NoError(t, err)
	require.Equal(t, 2, p.answers.History().Count())

	p.Reset()
	require.Zero(t, p.answers.History().Count())
	require.Zero(t, p.queries.History().Count())
	require.Equal(t, "No content scraped yet.", p.content.Info())
}

func TestNew_RequiresBackends(t *testing.T) {
	_, err := New(Config{Client: &mockLLM{}})
	require.Error(t, err)
}
