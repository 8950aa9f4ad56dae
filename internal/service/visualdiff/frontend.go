// Package visualdiff decides whether a task is frontend work, pulls
// page URLs out of the plan, and captures before/after screenshots of
// those pages through the browser driver.
package visualdiff

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// maxURLs caps how many pages one task screenshots.
const maxURLs = 5

// frontendKeywords match plans that describe user-visible work. Word
// boundaries matter: "build" contains "ui".
var frontendKeywords = regexp.MustCompile(`\b(component|page|ui|button|style|css|layout|frontend|react|vue|svelte|tailwind|render|screen|view|form|modal|navbar|footer|header|animation|responsive|design)\b`)

var frontendExts = map[string]bool{
	".tsx":    true,
	".jsx":    true,
	".vue":    true,
	".svelte": true,
	".css":    true,
	".scss":   true,
	".sass":   true,
}

// IsFrontend reports whether the plan or the changed files indicate
// work worth screenshotting.
func IsFrontend(plan string, files []string) bool {
	if frontendKeywords.MatchString(strings.ToLower(plan)) {
		return true
	}
	for _, f := range files {
		if frontendExts[strings.ToLower(filepath.Ext(f))] {
			return true
		}
	}
	return false
}

var (
	// quotedPathRe matches quoted path tokens like "/users/settings".
	quotedPathRe = regexp.MustCompile(`"(/[A-Za-z0-9_\-./]*)"`)

	// pagePhraseRe matches "X page" phrases like "the settings page".
	pagePhraseRe = regexp.MustCompile(`(?i)\b([a-z0-9_-]+)\s+page\b`)
)

// pagePhraseSkip excludes phrases that just mean the home page.
var pagePhraseSkip = map[string]bool{"home": true, "main": true, "index": true}

// ExtractURLs pulls the page paths a plan mentions. The home page is
// always included and always first; the rest are deduped, sorted and
// capped.
func ExtractURLs(plan string) []string {
	seen := map[string]bool{"/": true}
	var urls []string

	for _, m := range quotedPathRe.FindAllStringSubmatch(plan, -1) {
		u := m[1]
		if u != "/" {
			u = strings.TrimRight(u, "/")
		}
		if u == "" || u == "/" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}

	for _, m := range pagePhraseRe.FindAllStringSubmatch(plan, -1) {
		name := strings.ToLower(m[1])
		if pagePhraseSkip[name] {
			continue
		}
		u := "/" + name
		if seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}

	sort.Strings(urls)
	out := append([]string{"/"}, urls...)
	if len(out) > maxURLs {
		out = out[:maxURLs]
	}
	return out
}

// Slug derives a screenshot file stem from a page path.
func Slug(url string) string {
	s := strings.TrimPrefix(url, "/")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, "?", "_")
	if len(s) > 50 {
		s = s[:50]
	}
	if s == "" {
		s = "home"
	}
	return s
}
