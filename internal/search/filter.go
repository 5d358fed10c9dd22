package search

import "fmt"

// matchesFilters applies exact-match metadata filtering. The keys
// "source", "url" and "tags" match the lifted fields; anything else
// matches raw metadata. A slice filter value matches if any element
// matches; a tags filter matches if the document carries the tag.
func matchesFilters(doc *Document, filters map[string]any) bool {
	for key, want := range filters {
		if !matchesFilter(doc, key, want) {
			return false
		}
	}
	return true
}

func matchesFilter(doc *Document, key string, want any) bool {
	if values, ok := asSlice(want); ok {
		for _, v := range values {
			if matchesFilter(doc, key, v) {
				return true
			}
		}
		return false
	}

	switch key {
	case "source":
		return fmt.Sprint(want) == doc.Source
	case "url":
		return fmt.Sprint(want) == doc.URL
	case "tags":
		for _, tag := range doc.Tags {
			if fmt.Sprint(want) == tag {
				return true
			}
		}
		return false
	default:
		got, ok := doc.Metadata[key]
		return ok && fmt.Sprint(want) == fmt.Sprint(got)
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}
