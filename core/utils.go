package core

import "strings"

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// SplitClean splits `s` on `sep`, cleans every item and drops the empty ones.
func SplitClean(s, sep string) []string {
	var items []string
	for _, item := range strings.Split(s, sep) {
		if item = CleanString(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
