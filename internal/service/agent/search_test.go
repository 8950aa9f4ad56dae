package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/service/costs"
)

func TestSearchContextNoneSkipsSearch(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("NONE")
	f := fx.facade(t)

	got := f.SearchContext(context.Background(), "rename a variable")
	assert.Empty(t, got)
	assert.Zero(t, fx.search.CallCount("Search"))
	assert.Equal(t, 1, fx.ledger.Entries()[costs.CategorySearchProbe].Calls)
}

func TestSearchContextFormatsBlocks(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("react 19 useOptimistic api")
	fx.search.WithResults(
		core.SearchResult{Title: "useOptimistic - React", URL: "https://react.dev/reference/react/useOptimistic", Snippet: "useOptimistic is a React Hook"},
		core.SearchResult{Title: "React 19 release notes", URL: "https://react.dev/blog/react-19"},
	)
	f := fx.facade(t)

	got := f.SearchContext(context.Background(), "adopt useOptimistic in the form")
	require.NotEmpty(t, got)

	assert.True(t, strings.HasPrefix(got, "CONTEXT - Internet Research:\n"))
	assert.Contains(t, got, "The following information was found via internet search:")
	assert.Contains(t, got, "Query: react 19 useOptimistic api")
	assert.Contains(t, got, "1. useOptimistic - React")
	assert.Contains(t, got, "   useOptimistic is a React Hook")
	assert.Contains(t, got, "   Source: https://react.dev/reference/react/useOptimistic")
	assert.Contains(t, got, "2. React 19 release notes")
	assert.False(t, strings.HasSuffix(got, "\n"))
}

func TestSearchContextCapsQueries(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("query one\nquery two\nquery three")
	fx.search.WithResults(core.SearchResult{Title: "hit", URL: "https://example.com"})
	f := fx.facade(t)

	got := f.SearchContext(context.Background(), "needs lots of research")
	assert.NotEmpty(t, got)
	assert.Equal(t, 2, fx.search.CallCount("Search"))
	assert.Contains(t, got, "Query: query one")
	assert.Contains(t, got, "Query: query two")
	assert.NotContains(t, got, "query three")
}

func TestSearchContextProbeFailureDegrades(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithError(errors.New("api down"))
	f := fx.facade(t)

	assert.Empty(t, f.SearchContext(context.Background(), "anything"))
	assert.Zero(t, fx.search.CallCount("Search"))
}

func TestSearchContextSearchFailureDegrades(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("react 19 changes")
	fx.search.WithError(core.ErrNetwork("SEARCH_FAILED", "duckduckgo unreachable"))
	f := fx.facade(t)

	assert.Empty(t, f.SearchContext(context.Background(), "anything"))
}

func TestSearchContextEmptyResultsDegrade(t *testing.T) {
	fx := newFixture()
	fx.textgen.WithResponses("very obscure query")
	f := fx.facade(t)

	assert.Empty(t, f.SearchContext(context.Background(), "anything"))
}

func TestSearchContextWithoutProviderIsFree(t *testing.T) {
	fx := newFixture()
	fx.search = nil
	f := fx.facade(t)

	assert.Empty(t, f.SearchContext(context.Background(), "anything"))
	assert.Empty(t, fx.textgen.Requests())
}

func TestParseProbeQueries(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"none", "NONE", nil},
		{"none lowercase", "none", nil},
		{"none padded", "  NONE  \n", nil},
		{"one query", "react 19 useOptimistic api", []string{"react 19 useOptimistic api"}},
		{"two queries", "a\nb", []string{"a", "b"}},
		{"caps at two", "a\nb\nc", []string{"a", "b"}},
		{"skips blanks and quotes", "\n\"react hooks\"\n\n", []string{"react hooks"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseProbeQueries(tc.in))
		})
	}
}

func TestFormatSearchContextEmpty(t *testing.T) {
	assert.Empty(t, formatSearchContext(nil))
}
