// Package search implements the web-search port over the DuckDuckGo
// HTML endpoint: plain HTTP and regex extraction, no API key.
package search

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

const (
	defaultEndpoint = "https://html.duckduckgo.com/html/"
	defaultResults  = 5

	// maxBodyBytes bounds how much of the results page is read.
	maxBodyBytes = 2 << 20
)

// The endpoint serves an empty shell to clients without a browser UA.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:122.0) Gecko/20100101 Firefox/122.0"

var (
	linkRe    = regexp.MustCompile(`(?s)<a[^>]+class="[^"]*result__a[^"]*"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	snippetRe = regexp.MustCompile(`(?s)<a[^>]+class="[^"]*result__snippet[^"]*"[^>]*>(.*?)</a>`)
	tagRe     = regexp.MustCompile(`<[^>]*>`)
)

// DuckDuckGo implements core.SearchProvider.
type DuckDuckGo struct {
	client   *http.Client
	endpoint string
	logger   *logging.Logger
}

// New creates the search provider.
func New(logger *logging.Logger) *DuckDuckGo {
	return &DuckDuckGo{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: defaultEndpoint,
		logger:   logger,
	}
}

// WithEndpoint substitutes the results endpoint.
func (d *DuckDuckGo) WithEndpoint(endpoint string) *DuckDuckGo {
	d.endpoint = endpoint
	return d
}

// WithHTTPClient substitutes the HTTP client.
func (d *DuckDuckGo) WithHTTPClient(client *http.Client) *DuckDuckGo {
	d.client = client
	return d
}

// Search runs one query and returns up to maxResults hits.
func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]core.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = defaultResults
	}

	reqURL := fmt.Sprintf("%s?q=%s", d.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, core.Wrap(err, core.ErrCatNetwork, "SEARCH_FAILED", "querying search endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.ErrNetwork("SEARCH_FAILED", fmt.Sprintf("search endpoint returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, core.Wrap(err, core.ErrCatNetwork, "SEARCH_FAILED", "reading search results")
	}

	results := parseResults(string(body), maxResults)
	d.logger.Debug("search completed", "query", query, "results", len(results))
	return results, nil
}

// parseResults extracts hits from the results HTML. Links and snippets
// appear in the same document order, so they pair by index.
func parseResults(body string, maxResults int) []core.SearchResult {
	links := linkRe.FindAllStringSubmatch(body, -1)
	snippets := snippetRe.FindAllStringSubmatch(body, -1)

	results := make([]core.SearchResult, 0, maxResults)
	for i, m := range links {
		if len(results) >= maxResults {
			break
		}
		href := resolveRedirect(html.UnescapeString(m[1]))
		if href == "" {
			continue
		}
		r := core.SearchResult{
			Title: cleanText(m[2]),
			URL:   href,
		}
		if i < len(snippets) {
			r.Snippet = cleanText(snippets[i][1])
		}
		results = append(results, r)
	}
	return results
}

// resolveRedirect unwraps the endpoint's /l/?uddg= redirect links to
// the target URL.
func resolveRedirect(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}
