package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/comigor/atomic-agents/internal/logger"
)

// SearXNGInput is the argument schema of the web search tool.
type SearXNGInput struct {
	Queries  []string `json:"queries" jsonschema:"description=List of search queries." validate:"required,min=1,dive,required"`
	Category string   `json:"category,omitempty" jsonschema:"description=Category of the search queries,enum=general,enum=news,enum=social_media"`
}

// SearchResult is one hit returned by SearXNG.
type SearchResult struct {
	URL           string  `json:"url"`
	Title         string  `json:"title"`
	Content       string  `json:"content,omitempty"`
	Query         string  `json:"query"`
	PublishedDate string  `json:"published_date,omitempty"`
	Score         float64 `json:"score,omitempty"`
}

// SearXNGOutput is the result schema of the web search tool.
type SearXNGOutput struct {
	Results  []SearchResult `json:"results"`
	Category string         `json:"category,omitempty"`
}

// SearXNGConfig configures a SearXNGClient.
type SearXNGConfig struct {
	BaseURL    string
	MaxResults int
}

// SearXNGClient is a client for the SearXNG JSON search API
type SearXNGClient struct {
	cfg    SearXNGConfig
	client *http.Client
}

// NewSearXNGClient creates a new SearXNGClient
func NewSearXNGClient(cfg SearXNGConfig) *SearXNGClient {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SearXNGClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type searxngResponse struct {
	Results []struct {
		URL           string  `json:"url"`
		Title         string  `json:"title"`
		Content       string  `json:"content"`
		PublishedDate string  `json:"publishedDate"`
		Score         float64 `json:"score"`
	} `json:"results"`
}

// Query runs a single search.
func (c *SearXNGClient) Query(ctx context.Context, query, category string) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("safesearch", "0")
	params.Set("format", "json")
	params.Set("language", "en")
	params.Set("engines", "bing,duckduckgo,google,startpage,yandex")
	if category != "" {
		params.Set("categories", category)
	}
	endpoint := fmt.Sprintf("%s/search?%s", c.cfg.BaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch search results for query %q: unexpected status code: %d", query, resp.StatusCode)
	}

	var payload searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	out := make([]SearchResult, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		out = append(out, SearchResult{
			URL:           r.URL,
			Title:         r.Title,
			Content:       r.Content,
			Query:         query,
			PublishedDate: r.PublishedDate,
			Score:         r.Score,
		})
	}
	return out, nil
}

// Search runs every query concurrently, merges the hits, drops duplicate URLs,
// orders them by score and keeps at most maxResults (0 uses the configured limit).
func (c *SearXNGClient) Search(ctx context.Context, in SearXNGInput, maxResults int) (SearXNGOutput, error) {
	if maxResults <= 0 {
		maxResults = c.cfg.MaxResults
	}

	all := make([][]SearchResult, len(in.Queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range in.Queries {
		g.Go(func() error {
			res, err := c.Query(gctx, q, in.Category)
			if err != nil {
				return err
			}
			all[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SearXNGOutput{}, err
	}

	seen := make(map[string]bool)
	var merged []SearchResult
	for _, res := range all {
		for _, r := range res {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > maxResults {
		merged = merged[:maxResults]
	}
	if merged == nil {
		merged = []SearchResult{}
	}
	logger.L.Debug("searxng search finished", "queries", len(in.Queries), "results", len(merged))
	return SearXNGOutput{Results: merged, Category: in.Category}, nil
}

// ErrNoSearchBackend is returned when the search tool has no base URL.
var ErrNoSearchBackend = errors.New("searxng base url is not configured")

// NewSearXNGTool returns the web search tool backed by client.
func NewSearXNGTool(client *SearXNGClient) *Typed[SearXNGInput, SearXNGOutput] {
	t, err := NewTyped("web_search",
		"Searches the web through a SearXNG instance and returns result titles, URLs and snippets. Use several specific queries for better coverage.",
		func(ctx context.Context, in SearXNGInput) (SearXNGOutput, error) {
			if client == nil || client.cfg.BaseURL == "" {
				return SearXNGOutput{}, ErrNoSearchBackend
			}
			return client.Search(ctx, in, 0)
		})
	if err != nil {
		panic(err)
	}
	return t
}
