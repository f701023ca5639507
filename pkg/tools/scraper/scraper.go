// Package scraper fetches web pages and turns their main content into
// markdown, honoring robots.txt, per-host rate limits and privacy rules.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/atomic-agents/internal/logger"
	"github.com/comigor/atomic-agents/pkg/tools"
)

// ErrContentTooLarge is returned when a page exceeds MaxContentLength.
var ErrContentTooLarge = errors.New("content length exceeds maximum")

// Config configures a Scraper.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	MaxContentLength  int
	RequestsPerSecond float64
	RespectRobots     bool
	RedactPII         bool
	// Concurrency bounds ScrapeMany; 0 means one goroutine per URL.
	Concurrency int
	HTTPClient  *http.Client
}

// Input is the argument schema of the scraper tool.
type Input struct {
	URL          string `json:"url" jsonschema:"description=URL of the webpage to scrape." validate:"required,url"`
	IncludeLinks bool   `json:"include_links,omitempty" jsonschema:"description=Whether to keep links in the extracted content."`
}

// Metadata describes a scraped page.
type Metadata struct {
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Domain      string `json:"domain"`
}

// Output is the result schema of the scraper tool.
type Output struct {
	Content  string   `json:"content" jsonschema:"description=The scraped content in markdown format."`
	Metadata Metadata `json:"metadata"`
}

// Scraper fetches pages.
type Scraper struct {
	cfg     Config
	client  *http.Client
	robots  *RobotsChecker
	limiter *RateLimiter
	privacy *PrivacyChecker
}

// New creates a scraper.
func New(cfg Config) *Scraper {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "AtomicAgents-Scraper/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 1_000_000
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	return &Scraper{
		cfg:     cfg,
		client:  client,
		robots:  NewRobotsChecker(client, cfg.UserAgent),
		limiter: NewRateLimiter(cfg.RequestsPerSecond),
		privacy: NewPrivacyChecker(),
	}
}

// Scrape fetches one page and extracts its main content as markdown.
func (s *Scraper) Scrape(ctx context.Context, in Input) (Output, error) {
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Output{}, fmt.Errorf("invalid URL %q", in.URL)
	}
	if err := s.privacy.CheckURL(u); err != nil {
		return Output{}, err
	}
	if s.cfg.RespectRobots {
		if !s.robots.Allowed(ctx, u) {
			return Output{}, ErrDisallowedByRobots
		}
		s.limiter.SlowDown(u.Host, s.robots.CrawlDelay(ctx, u))
	}
	if err := s.limiter.Wait(ctx, u.Host); err != nil {
		return Output{}, err
	}

	body, err := s.fetch(ctx, u.String())
	if err != nil {
		return Output{}, err
	}

	out, err := s.extract(body, u, in.IncludeLinks)
	if err != nil {
		return Output{}, err
	}
	if s.cfg.RedactPII {
		out.Content = s.privacy.Redact(out.Content)
	}
	return out, nil
}

func (s *Scraper) fetch(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" &&
		!strings.Contains(ct, "html") && !strings.Contains(ct, "xml") && !strings.Contains(ct, "text/plain") {
		return "", fmt.Errorf("unsupported content type: %s", ct)
	}
	if resp.ContentLength > int64(s.cfg.MaxContentLength) {
		return "", fmt.Errorf("%w: %d bytes", ErrContentTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(s.cfg.MaxContentLength)+1))
	if err != nil {
		return "", err
	}
	if len(data) > s.cfg.MaxContentLength {
		return "", fmt.Errorf("%w: %d bytes", ErrContentTooLarge, s.cfg.MaxContentLength)
	}
	return string(data), nil
}

var (
	noiseSelectors = "script, style, noscript, iframe, svg, form, nav, header, footer, aside, " +
		"[role=navigation], [role=banner], [role=contentinfo], .advertisement, .ads, .cookie-banner, .sidebar"
	mainSelectors = []string{"main", "article", "[role=main]", "#content", ".content", ".post-content", ".entry-content"}
	blankLines    = regexp.MustCompile(`\n{3,}`)
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	markdownLink  = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)

func (s *Scraper) extract(html string, u *url.URL, includeLinks bool) (Output, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Output{}, fmt.Errorf("parse html: %w", err)
	}

	meta := Metadata{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Author:      metaContent(doc, "meta[name='author']"),
		Description: metaContent(doc, "meta[name='description']", "meta[property='og:description']"),
		SiteName:    metaContent(doc, "meta[property='og:site_name']"),
		Domain:      u.Hostname(),
	}
	if meta.Title == "" {
		meta.Title = metaContent(doc, "meta[property='og:title']")
	}

	doc.Find(noiseSelectors).Remove()

	root := doc.Find("body")
	for _, sel := range mainSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 && strings.TrimSpace(found.Text()) != "" {
			root = found
			break
		}
	}
	inner, err := root.Html()
	if err != nil {
		return Output{}, fmt.Errorf("render main content: %w", err)
	}

	converter := md.NewConverter(u.Host, true, nil)
	content, err := converter.ConvertString(inner)
	if err != nil {
		return Output{}, fmt.Errorf("convert to markdown: %w", err)
	}
	if !includeLinks {
		content = markdownImage.ReplaceAllString(content, "")
		content = markdownLink.ReplaceAllString(content, "$1")
	}
	content = strings.TrimSpace(blankLines.ReplaceAllString(content, "\n\n"))

	return Output{Content: content, Metadata: meta}, nil
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ScrapeMany fetches all URLs concurrently and returns url -> markdown content.
// A URL that fails maps to "Error scraping {url}: {msg}" instead of failing the batch.
func (s *Scraper) ScrapeMany(ctx context.Context, urls []string) map[string]string {
	var (
		mu      sync.Mutex
		results = make(map[string]string, len(urls))
	)

	var g errgroup.Group
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}
	for _, target := range urls {
		g.Go(func() error {
			var text string
			out, err := s.Scrape(ctx, Input{URL: target})
			if err != nil {
				logger.L.Warn("scrape failed", "url", target, "error", err)
				text = fmt.Sprintf("Error scraping %s: %s", target, err)
			} else {
				text = out.Content
			}
			mu.Lock()
			results[target] = text
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// NewTool exposes the scraper as the scrape_webpage tool.
func NewTool(s *Scraper) *tools.Typed[Input, Output] {
	t, err := tools.NewTyped("scrape_webpage",
		"Scrapes a webpage and returns its main content as markdown together with page metadata.",
		s.Scrape)
	if err != nil {
		panic(err)
	}
	return t
}
