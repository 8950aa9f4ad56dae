package visualdiff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFrontend_Keywords(t *testing.T) {
	tests := []struct {
		name string
		plan string
		want bool
	}{
		{"component", "1. Add a new component for the sidebar", true},
		{"styling", "Update the CSS layout of the navbar", true},
		{"case insensitive", "REDESIGN the Settings Page", true},
		{"backend only", "Add a database migration and update the API handler", false},
		{"ui needs word boundary", "Rebuild the request pipeline", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFrontend(tt.plan, nil))
		})
	}
}

func TestIsFrontend_Extensions(t *testing.T) {
	assert.True(t, IsFrontend("tune the query planner", []string{"src/App.tsx"}))
	assert.True(t, IsFrontend("", []string{"styles/main.SCSS"}))
	assert.False(t, IsFrontend("tune the query planner", []string{"db/query.go", "db/query_test.go"}))
}

func TestExtractURLs_QuotedPaths(t *testing.T) {
	plan := `1. Update "/about" with the new copy
2. Fix the form on "/users/settings"
3. Leave "/about" unchanged otherwise`

	assert.Equal(t, []string{"/", "/about", "/users/settings"}, ExtractURLs(plan))
}

func TestExtractURLs_PagePhrases(t *testing.T) {
	plan := "Redesign the settings page and the dashboard page. The home page stays."

	assert.Equal(t, []string{"/", "/dashboard", "/settings"}, ExtractURLs(plan))
}

func TestExtractURLs_HomeAlwaysFirst(t *testing.T) {
	urls := ExtractURLs(`Change "/zebra" and "/alpha"`)
	assert.Equal(t, "/", urls[0])
	assert.Equal(t, []string{"/", "/alpha", "/zebra"}, urls)

	assert.Equal(t, []string{"/"}, ExtractURLs("no page mentions here at all"))
}

func TestExtractURLs_Cap(t *testing.T) {
	plan := `"/a" "/b" "/c" "/d" "/e" "/f" "/g"`
	urls := ExtractURLs(plan)
	assert.Len(t, urls, maxURLs)
	assert.Equal(t, "/", urls[0])
}

func TestExtractURLs_TrailingSlashAndDupes(t *testing.T) {
	urls := ExtractURLs(`Touch "/about/" and "/about" and "/"`)
	assert.Equal(t, []string{"/", "/about"}, urls)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"/", "home"},
		{"", "home"},
		{"/about", "about"},
		{"/users/settings", "users_settings"},
		{"/search?q=1", "search_q=1"},
		{"/a:b", "ab"},
		{"/" + strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.url))
		})
	}
}
