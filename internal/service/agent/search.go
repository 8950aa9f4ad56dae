package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/service/costs"
)

const (
	// maxProbeQueries caps how many searches one task may spend.
	maxProbeQueries = 2
	// maxSearchResults caps results per query.
	maxSearchResults = 5
)

// SearchContext decides whether the task needs internet research and,
// when it does, runs at most two scoped searches and formats them as a
// context block for the implement prompt. NONE (the default) and every
// failure return the empty string: research is an input, not a gate.
func (f *Facade) SearchContext(ctx context.Context, desc string) string {
	if f.search == nil {
		return ""
	}
	prompt, err := render("search-probe", probeParams{Description: desc})
	if err != nil {
		return ""
	}
	res, err := f.generate(ctx, costs.CategorySearchProbe, prompt)
	if err != nil {
		f.logger.Warn("search criticality probe failed", "error", err)
		return ""
	}
	queries := parseProbeQueries(res.Text)
	if len(queries) == 0 {
		return ""
	}
	f.logger.Info("search deemed critical", "queries", len(queries))

	blocks := make([]searchBlock, 0, len(queries))
	for _, q := range queries {
		results, err := f.search.Search(ctx, q, maxSearchResults)
		if err != nil {
			f.logger.Warn("search failed", "query", q, "error", err)
			continue
		}
		if len(results) == 0 {
			continue
		}
		blocks = append(blocks, searchBlock{query: q, results: results})
	}
	return formatSearchContext(blocks)
}

// parseProbeQueries reads the probe reply: a line saying NONE means no
// research; otherwise every nonempty line is a query, capped at
// maxProbeQueries.
func parseProbeQueries(text string) []string {
	var queries []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "NONE") {
			return nil
		}
		queries = append(queries, line)
		if len(queries) == maxProbeQueries {
			break
		}
	}
	return queries
}

type searchBlock struct {
	query   string
	results []core.SearchResult
}

// formatSearchContext renders searches in the fixed block layout the
// implement and plan prompts embed.
func formatSearchContext(blocks []searchBlock) string {
	if len(blocks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("CONTEXT - Internet Research:\n")
	b.WriteString("The following information was found via internet search:\n\n")
	for _, blk := range blocks {
		fmt.Fprintf(&b, "Query: %s\n", blk.query)
		for i, r := range blk.results {
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
			if r.Snippet != "" {
				fmt.Fprintf(&b, "   %s\n", r.Snippet)
			}
			if r.URL != "" {
				fmt.Fprintf(&b, "   Source: %s\n", r.URL)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
