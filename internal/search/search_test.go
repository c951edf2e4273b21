package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

func testItems() []*schema.Item {
	return []*schema.Item{
		{ID: "1", URL: "https://go.dev/blog/generics", Title: "An Introduction To Generics"},
		{ID: "2", URL: "https://example.com/sqlite", Title: "SQLite Is Not A Toy Database"},
		{ID: "3", URL: "https://example.com/untitled-post"},
	}
}

func TestItems_MatchesTitle(t *testing.T) {
	results := Items(testItems(), "generics", 0)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].Item.ID)
	assert.NotEmpty(t, results[0].MatchedIndexes)
}

func TestItems_FallsBackToURL(t *testing.T) {
	results := Items(testItems(), "untitled", 0)
	require.Len(t, results, 1)
	assert.Equal(t, "3", results[0].Item.ID)
}

func TestItems_Limit(t *testing.T) {
	results := Items(testItems(), "e", 2)
	assert.Len(t, results, 2)
}

func TestItems_EmptyQuery(t *testing.T) {
	assert.Nil(t, Items(testItems(), "", 0))
	assert.Nil(t, Items(nil, "go", 0))
}
