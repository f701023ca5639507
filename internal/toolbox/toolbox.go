// Package toolbox builds the bundled tools from configuration.
package toolbox

import (
	"github.com/comigor/atomic-agents/internal/config"
	"github.com/comigor/atomic-agents/pkg/tools"
	"github.com/comigor/atomic-agents/pkg/tools/scraper"
)

// Toolbox holds the configured tool backends and a registry with one tool per backend.
type Toolbox struct {
	Manager *tools.ToolManager
	Search  *tools.SearXNGClient
	Scraper *scraper.Scraper
}

// New creates the calculator, web_search and scrape_webpage tools.
func New(cfg config.ToolsConfig) *Toolbox {
	search := tools.NewSearXNGClient(tools.SearXNGConfig{
		BaseURL:    cfg.SearXNG.BaseURL,
		MaxResults: cfg.SearXNG.MaxResults,
	})
	s := scraper.New(scraper.Config{
		UserAgent:         cfg.Scraper.UserAgent,
		Timeout:           cfg.Scraper.Timeout,
		MaxContentLength:  cfg.Scraper.MaxContentLength,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		RespectRobots:     cfg.Scraper.RespectRobots,
		RedactPII:         cfg.Scraper.RedactPII,
	})
	return &Toolbox{
		Manager: tools.NewToolManager(
			tools.NewCalculator(),
			tools.NewSearXNGTool(search),
			scraper.NewTool(s),
		),
		Search:  search,
		Scraper: s,
	}
}
