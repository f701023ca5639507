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

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"github.com/comigor/atomic-agents/internal/logger"
)

var (
	ErrDisallowedByRobots = errors.New("disallowed by robots.txt")
	ErrPrivacyBlocked     = errors.New("blocked by privacy rules")
)

// RobotsChecker fetches and caches robots.txt per scheme+host.
type RobotsChecker struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsChecker creates a checker that identifies itself as userAgent.
func NewRobotsChecker(client *http.Client, userAgent string) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotsChecker{client: client, userAgent: userAgent, cache: make(map[string]*robotstxt.RobotsData)}
}

func (r *RobotsChecker) data(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return cached
	}

	d := r.fetch(ctx, key+"/robots.txt")
	// An aborted fetch says nothing about the host; try again next time.
	if ctx.Err() != nil {
		return d
	}
	r.mu.Lock()
	r.cache[key] = d
	r.mu.Unlock()
	return d
}

// fetch treats an unreachable robots.txt like a missing one: everything allowed.
func (r *RobotsChecker) fetch(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	allowAll, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return allowAll
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		logger.L.Debug("robots.txt unreachable; allowing", "url", robotsURL, "error", err)
		return allowAll
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return allowAll
	}
	d, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		logger.L.Debug("robots.txt unparseable; allowing", "url", robotsURL, "error", err)
		return allowAll
	}
	return d
}

// Allowed reports whether the user agent may fetch u.
func (r *RobotsChecker) Allowed(ctx context.Context, u *url.URL) bool {
	return r.data(ctx, u).TestAgent(u.RequestURI(), r.userAgent)
}

// CrawlDelay returns the crawl delay robots.txt asks of the user agent, or 0.
func (r *RobotsChecker) CrawlDelay(ctx context.Context, u *url.URL) time.Duration {
	if g := r.data(ctx, u).FindGroup(r.userAgent); g != nil {
		return g.CrawlDelay
	}
	return 0
}

// RateLimiter spaces requests to the same host.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows requestsPerSecond per host; <= 0 disables limiting.
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &RateLimiter{limit: limit, limiters: make(map[string]*rate.Limiter)}
}

func (l *RateLimiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, 1)
		l.limiters[host] = lim
	}
	return lim
}

// Wait blocks until a request to host may proceed.
func (l *RateLimiter) Wait(ctx context.Context, host string) error {
	return l.forHost(host).Wait(ctx)
}

// SlowDown lowers the rate for host to one request per delay when that is
// stricter than the current limit.
func (l *RateLimiter) SlowDown(host string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	lim := l.forHost(host)
	if every := rate.Every(delay); every < lim.Limit() {
		lim.SetLimit(every)
	}
}

// Limit returns the current limit for host.
func (l *RateLimiter) Limit(host string) rate.Limit {
	return l.forHost(host).Limit()
}

// PrivacyChecker refuses URLs that point at personal areas or carry
// credentials, and redacts personal data from scraped text.
type PrivacyChecker struct {
	blockedPaths  []string
	blockedParams map[string]bool
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+\d{1,3}[\s.\-]?)?\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`)
)

// NewPrivacyChecker returns a checker with the default rules.
func NewPrivacyChecker() *PrivacyChecker {
	params := map[string]bool{}
	for _, p := range []string{"token", "access_token", "auth", "session", "sessionid", "sid", "password", "passwd", "api_key", "apikey", "secret"} {
		params[p] = true
	}
	return &PrivacyChecker{
		blockedPaths:  []string{"/login", "/signin", "/sign-in", "/logout", "/account", "/checkout", "/cart", "/admin", "/password", "/private", "/settings"},
		blockedParams: params,
	}
}

// CheckURL returns ErrPrivacyBlocked for URLs that should not be scraped.
func (p *PrivacyChecker) CheckURL(u *url.URL) error {
	path := strings.ToLower(u.Path)
	for _, bp := range p.blockedPaths {
		if path == bp || strings.HasPrefix(path, bp+"/") {
			return fmt.Errorf("%w: path %s", ErrPrivacyBlocked, u.Path)
		}
	}
	for k := range u.Query() {
		if p.blockedParams[strings.ToLower(k)] {
			return fmt.Errorf("%w: query parameter %s", ErrPrivacyBlocked, k)
		}
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrPrivacyBlocked)
	}
	return nil
}

// Redact masks email addresses and phone numbers.
func (p *PrivacyChecker) Redact(text string) string {
	text = emailPattern.ReplaceAllString(text, "[REDACTED EMAIL]")
	return phonePattern.ReplaceAllString(text, "[REDACTED PHONE]")
}
