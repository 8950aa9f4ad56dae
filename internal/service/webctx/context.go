package webctx

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// contentPreviewRunes caps the per-page content line in the block.
const contentPreviewRunes = 300

// urlRe matches absolute http(s) URLs. The final class keeps trailing
// sentence punctuation out of the captured URL.
var urlRe = regexp.MustCompile(`https?://[^\s<>"{}|\\^\x60\[\]]+[^\s<>"{}|\\^\x60\[\].,;:!?)]`)

// ExtractURLs finds the absolute URLs mentioned in a request, in
// order of first appearance. Duplicates collapse.
func ExtractURLs(text string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, u := range urlRe.FindAllString(text, -1) {
		if seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

// FormatContext renders fetched pages as a prompt block. Failed pages
// stay in the list with their error, so the agent knows a referenced
// site exists even when it could not be read.
func FormatContext(pages []Page) string {
	if len(pages) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("CONTEXT - Referenced Websites:\n")
	b.WriteString("The following websites were fetched and analyzed:\n\n")

	haveShots := false
	for i, p := range pages {
		if p.Err != nil {
			fmt.Fprintf(&b, "%d. %s - FAILED: %v\n\n", i+1, p.URL, p.Err)
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.URL)
		if p.Title != "" {
			fmt.Fprintf(&b, "   Title: %s\n", p.Title)
		}
		if p.Screenshot != "" {
			fmt.Fprintf(&b, "   Screenshot: %s\n", filepath.Base(p.Screenshot))
			haveShots = true
		}
		fmt.Fprintf(&b, "   Content: %s\n\n", truncateRunes(p.Text, contentPreviewRunes))
	}

	if haveShots {
		fmt.Fprintf(&b, "Screenshots are available in the %s/ directory for visual reference.", Dir)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ScreenshotPaths lists the local PNGs of successfully captured pages.
func ScreenshotPaths(pages []Page) []string {
	var paths []string
	for _, p := range pages {
		if p.Err == nil && p.Screenshot != "" {
			paths = append(paths, p.Screenshot)
		}
	}
	return paths
}
