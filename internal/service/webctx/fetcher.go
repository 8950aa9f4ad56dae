// Package webctx fetches websites referenced in a task request so the
// agent can see what the requester is pointing at: extracted page text
// for the prompt, a full-page screenshot for visual reference.
package webctx

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// Dir is the task-owned subdirectory screenshots are written to,
// relative to the working tree root.
const Dir = ".web"

const (
	// maxPages bounds how many referenced URLs one task may fetch.
	maxPages = 5

	// maxBodyBytes bounds how much of each page is read.
	maxBodyBytes = 2 << 20

	// maxTextRunes caps the extracted body text per page.
	maxTextRunes = 1000

	fetchTimeout = 30 * time.Second
)

// Some sites serve stripped-down or blocked pages to unknown clients.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	titleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headingRe = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	bodyRe    = regexp.MustCompile(`(?is)<body[^>]*>(.*)</body>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	tagRe     = regexp.MustCompile(`<[^>]*>`)
	spaceRe   = regexp.MustCompile(`\s+`)

	// Non-content blocks are dropped before text extraction.
	dropRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script\b.*?</script>`),
		regexp.MustCompile(`(?is)<style\b.*?</style>`),
		regexp.MustCompile(`(?is)<nav\b.*?</nav>`),
		regexp.MustCompile(`(?is)<footer\b.*?</footer>`),
	}
)

// Page is one fetched website.
type Page struct {
	// URL is the absolute URL as it appeared in the request.
	URL string
	// Title is the page title, possibly empty.
	Title string
	// Text is the extracted headings and content preview.
	Text string
	// Screenshot is the local PNG path. Empty when no browser is
	// configured or the capture failed; the page text still counts.
	Screenshot string
	// Err is set when the page could not be fetched at all.
	Err error
}

// Fetcher downloads referenced pages and screenshots them. The browser
// is optional: without one the fetcher still extracts page text.
type Fetcher struct {
	browser core.BrowserDriver
	client  *http.Client
	logger  *logging.Logger
}

// NewFetcher creates a fetcher. browser may be nil.
func NewFetcher(browser core.BrowserDriver, logger *logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Fetcher{
		browser: browser,
		client:  &http.Client{Timeout: fetchTimeout},
		logger:  logger,
	}
}

// WithHTTPClient substitutes the page-fetch client.
func (f *Fetcher) WithHTTPClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// Fetch downloads up to five of the given URLs and writes screenshots
// into outDir as website_1.png, website_2.png and so on. Every URL
// yields a Page; a failed fetch carries its error instead of content,
// so the context block can say what went wrong.
func (f *Fetcher) Fetch(ctx context.Context, urls []string, outDir string) []Page {
	if len(urls) > maxPages {
		f.logger.Warn("too many referenced URLs, fetching the first few", "found", len(urls), "limit", maxPages)
		urls = urls[:maxPages]
	}

	pages := make([]Page, 0, len(urls))
	for i, u := range urls {
		if ctx.Err() != nil {
			break
		}
		shot := filepath.Join(outDir, fmt.Sprintf("website_%d.png", i+1))
		page := f.fetchPage(ctx, u, shot)
		if page.Err != nil {
			f.logger.Warn("referenced page fetch failed", "url", u, "error", page.Err)
		}
		pages = append(pages, page)
	}

	ok := 0
	for _, p := range pages {
		if p.Err == nil {
			ok++
		}
	}
	f.logger.Info("referenced pages fetched", "ok", ok, "total", len(pages))
	return pages
}

func (f *Fetcher) fetchPage(ctx context.Context, pageURL, shotPath string) Page {
	page := Page{URL: pageURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		page.Err = core.Wrap(err, core.ErrCatNetwork, "WEB_FETCH_FAILED", "building page request")
		return page
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		page.Err = core.Wrap(err, core.ErrCatNetwork, "WEB_FETCH_FAILED", "fetching referenced page")
		return page
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		page.Err = core.ErrNetwork("WEB_FETCH_FAILED", fmt.Sprintf("page returned %d", resp.StatusCode))
		return page
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		page.Err = core.Wrap(err, core.ErrCatNetwork, "WEB_FETCH_FAILED", "reading referenced page")
		return page
	}

	doc := string(body)
	page.Title = extractTitle(doc)
	page.Text = extractText(doc)

	if f.browser != nil {
		if err := f.browser.Capture(ctx, pageURL, shotPath, core.DefaultShotOptions()); err != nil {
			f.logger.Warn("page screenshot failed", "url", pageURL, "error", err)
		} else {
			page.Screenshot = shotPath
		}
	}

	f.logger.Debug("referenced page fetched", "url", pageURL, "title", page.Title)
	return page
}

func extractTitle(doc string) string {
	m := titleRe.FindStringSubmatch(doc)
	if m == nil {
		return ""
	}
	return collapse(stripTags(m[1]))
}

// extractText pulls headings and a bounded content preview out of the
// page, markdown-style so the agent can read the structure.
func extractText(doc string) string {
	doc = commentRe.ReplaceAllString(doc, "")
	for _, re := range dropRes {
		doc = re.ReplaceAllString(doc, "")
	}

	var headings []string
	for _, m := range headingRe.FindAllStringSubmatch(doc, -1) {
		text := collapse(stripTags(m[2]))
		if text == "" {
			continue
		}
		level := int(m[1][0] - '0')
		headings = append(headings, strings.Repeat("#", level)+" "+text)
	}

	text := ""
	if m := bodyRe.FindStringSubmatch(doc); m != nil {
		text = truncateRunes(collapse(stripTags(m[1])), maxTextRunes)
	}

	switch {
	case len(headings) > 0 && text != "":
		return strings.Join(headings, "\n") + "\n\nContent preview:\n" + text
	case len(headings) > 0:
		return strings.Join(headings, "\n")
	case text != "":
		return "Content preview:\n" + text
	default:
		return "No text content extracted"
	}
}

func stripTags(s string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(s, " "))
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
