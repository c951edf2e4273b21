// Package search finds stored items by fuzzy title match.
package search

import (
	"github.com/sahilm/fuzzy"

	"github.com/mschirtzinger/pocketsync/internal/pocket/schema"
)

// Result is one fuzzy match.
type Result struct {
	Item           *schema.Item
	MatchedIndexes []int
	Score          int
}

// itemTitles implements fuzzy.Source over items. Items without a title are
// matched by URL instead.
type itemTitles []*schema.Item

func (it itemTitles) String(i int) string {
	return it[i].DisplayTitle()
}

func (it itemTitles) Len() int {
	return len(it)
}

// Items searches items by display title. Results are sorted best first; at
// most limit are returned when limit > 0.
func Items(items []*schema.Item, query string, limit int) []Result {
	if query == "" || len(items) == 0 {
		return nil
	}

	matches := fuzzy.FindFrom(query, itemTitles(items))
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			Item:           items[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		}
	}
	return results
}
