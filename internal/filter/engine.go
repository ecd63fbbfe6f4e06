// Package filter implements keyword matching of catalog items.
package filter

import (
	"strings"

	"stock_monitor/internal/model"
)

// Match checks whether an item passes a subscriber's keyword filter.
// An empty keyword list lets every item through.
// Include keywords use OR logic (at least one must match).
// Exclude keywords veto the item when any of them matches.
// Matching is case-insensitive substring containment on the item's
// name, description and category.
func Match(item model.Item, f model.KeywordFilter) bool {
	text := strings.ToLower(item.SearchText())

	if len(f.Keywords) > 0 && !containsAny(text, f.Keywords) {
		return false
	}
	return !containsAny(text, f.ExcludeKeywords)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Normalize trims keywords and drops empty ones, keeping their order.
func Normalize(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}
