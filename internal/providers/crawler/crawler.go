// Package crawler defines the crawler provider capability and its
// built-in HTTP implementation. Concrete providers are selected by
// configuration; the rest of the system depends only on the Provider
// interface.
package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/semaphore"

	"github.com/sitewatch/sitewatch/internal/config"
	"github.com/sitewatch/sitewatch/internal/core/resilience"
	"github.com/sitewatch/sitewatch/internal/domain"
	"github.com/sitewatch/sitewatch/internal/semantic"
)

var fetchRetryPolicy = &resilience.RetryPolicy{
	MaxRetries:    2,
	BaseDelay:     200 * time.Millisecond,
	MaxDelay:      2 * time.Second,
	Multiplier:    2.0,
	Jitter:        true,
	ErrorChecker:  &resilience.DefaultErrorChecker{},
	OperationName: "crawler_fetch",
}

// PageRecord is what a crawler provider reports for one fetched page.
type PageRecord struct {
	URL                string
	Title              string
	Description        string
	Markdown           string
	ContentHash        string
	SampleHash         string
	IsHomepage         bool
	Depth              int
	ETag               string
	LastModifiedHeader string
	ContentLength      int64
}

// Provider is the abstract crawling capability.
type Provider interface {
	CrawlSite(ctx context.Context, startURL string, maxPages int) ([]PageRecord, error)
	CrawlPage(ctx context.Context, pageURL string) (*PageRecord, error)
	MapSite(ctx context.Context, startURL string) ([]string, error)
	BatchScrape(ctx context.Context, urls []string, startURL string) ([]PageRecord, error)
}

// HTTPProvider crawls with a plain HTTP client and a breadth-first link
// walk bounded by maxPages, following only same-host links.
type HTTPProvider struct {
	client           *http.Client
	userAgent        string
	concurrencyLimit int
	perRequestDelay  time.Duration
	logger           *slog.Logger
}

// NewFromConfig builds the configured crawler provider. "http" is
// currently the only built-in provider; unknown values fall back to it.
func NewFromConfig(cfg config.CrawlerConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.ConcurrencyLimit
	if limit <= 0 {
		limit = 10
	}
	return &HTTPProvider{
		client:           &http.Client{Timeout: cfg.RequestTimeout},
		userAgent:        cfg.UserAgent,
		concurrencyLimit: limit,
		perRequestDelay:  cfg.PerRequestDelay,
		logger:           logger,
	}, nil
}

// CrawlPage fetches and parses one page. The fetch itself is retried a
// couple of times with backoff: a single dropped connection mid-crawl
// shouldn't fail the whole page when the remote site is merely slow to
// respond.
func (h *HTTPProvider) CrawlPage(ctx context.Context, pageURL string) (*PageRecord, error) {
	var body []byte
	var etag, lastModified string

	err := resilience.WithRetry(ctx, fetchRetryPolicy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return fmt.Errorf("crawler: build request: %w", err)
		}
		if h.userAgent != "" {
			req.Header.Set("User-Agent", h.userAgent)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return fmt.Errorf("crawler: fetch %s: %w", pageURL, err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return fmt.Errorf("crawler: read body %s: %w", pageURL, err)
		}
		body = b
		etag = resp.Header.Get("ETag")
		lastModified = resp.Header.Get("Last-Modified")
		return nil
	})
	if err != nil {
		return nil, err
	}

	record, err := h.parsePage(pageURL, body)
	if err != nil {
		return nil, err
	}
	record.ETag = etag
	record.LastModifiedHeader = lastModified
	record.ContentLength = int64(len(body))
	return record, nil
}

func (h *HTTPProvider) parsePage(pageURL string, body []byte) (*PageRecord, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("crawler: parse %s: %w", pageURL, err)
	}

	title := firstText(doc, "title")
	description := metaContent(doc, "description")
	markdown := visibleText(doc)

	sum := sha256.Sum256(body)
	sampleHash, err := semantic.Extract(string(body))
	if err != nil {
		sampleHash = ""
	}

	return &PageRecord{
		URL: domain.NormalizeURL(pageURL), Title: title, Description: description,
		Markdown: markdown, ContentHash: hex.EncodeToString(sum[:]), SampleHash: sampleHash,
	}, nil
}

// MapSite does a best-effort breadth-first link discovery from startURL,
// stopping after 1000 URLs. Each page is fetched in full twice: once
// through CrawlPage and once more to extract its links.
func (h *HTTPProvider) MapSite(ctx context.Context, startURL string) ([]string, error) {
	visited := map[string]bool{}
	queue := []string{startURL}
	var out []string

	for len(queue) > 0 && len(out) < 1000 {
		u := queue[0]
		queue = queue[1:]
		norm := domain.NormalizeURL(u)
		if visited[norm] {
			continue
		}
		visited[norm] = true

		record, err := h.CrawlPage(ctx, u)
		if err != nil {
			h.logger.Warn("crawler: map_site fetch failed", "url", u, "error", err)
			continue
		}
		out = append(out, record.URL)

		links, err := h.links(ctx, u)
		if err == nil {
			for _, l := range links {
				if !visited[domain.NormalizeURL(l)] {
					queue = append(queue, l)
				}
			}
		}
	}
	return out, nil
}

func (h *HTTPProvider) links(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	return sameHostLinks(doc, pageURL), nil
}

// CrawlSite walks from startURL up to maxPages, fanning fetches out with
// bounded concurrency.
func (h *HTTPProvider) CrawlSite(ctx context.Context, startURL string, maxPages int) ([]PageRecord, error) {
	urls, err := h.MapSite(ctx, startURL)
	if err != nil {
		return nil, fmt.Errorf("crawler: crawl site: map: %w", err)
	}
	if maxPages > 0 && len(urls) > maxPages {
		urls = urls[:maxPages]
	}
	return h.BatchScrape(ctx, urls, startURL)
}

// BatchScrape fetches a fixed URL set concurrently, bounded by
// concurrency_limit and spaced by per_request_delay.
func (h *HTTPProvider) BatchScrape(ctx context.Context, urls []string, startURL string) ([]PageRecord, error) {
	sem := semaphore.NewWeighted(int64(h.concurrencyLimit))
	records := make([]*PageRecord, len(urls))
	homepage := domain.NormalizeURL(startURL)

	done := make(chan struct{}, len(urls))
	for i, u := range urls {
		i, u := i, u
		sem.Acquire(ctx, 1)
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			if h.perRequestDelay > 0 {
				time.Sleep(h.perRequestDelay)
			}
			record, err := h.CrawlPage(ctx, u)
			if err != nil {
				h.logger.Warn("crawler: batch scrape failed", "url", u, "error", err)
				return
			}
			record.IsHomepage = domain.IsHomepage(record.URL, homepage)
			records[i] = record
		}()
	}
	for range urls {
		<-done
	}

	out := make([]PageRecord, 0, len(urls))
	for _, r := range records {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func firstText(n *html.Node, tag string) string {
	if n.Type == html.ElementNode && n.Data == tag {
		var sb strings.Builder
		collectText(n, &sb)
		return strings.TrimSpace(sb.String())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v := firstText(c, tag); v != "" {
			return v
		}
	}
	return ""
}

func metaContent(n *html.Node, name string) string {
	if n.Type == html.ElementNode && n.Data == "meta" {
		var metaName, content string
		for _, a := range n.Attr {
			switch strings.ToLower(a.Key) {
			case "name":
				metaName = strings.ToLower(a.Val)
			case "content":
				content = a.Val
			}
		}
		if metaName == name {
			return content
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v := metaContent(c, name); v != "" {
			return v
		}
	}
	return ""
}

func visibleText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func sameHostLinks(n *html.Node, baseURL string) []string {
	base := domain.NormalizeURL(baseURL)
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" && a.Val != "" && !strings.HasPrefix(a.Val, "#") {
					resolved := resolveHref(base, a.Val)
					if resolved != "" {
						out = append(out, resolved)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func resolveHref(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		hu, err := url.Parse(href)
		bu, berr := url.Parse(base)
		if err != nil || berr != nil || !strings.EqualFold(hu.Host, bu.Host) {
			return ""
		}
		return href
	}
	if strings.HasPrefix(href, "/") {
		idx := strings.Index(base[8:], "/")
		if idx == -1 {
			return base + href
		}
		return base[:8+idx] + href
	}
	return ""
}
