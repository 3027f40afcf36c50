package utils

import "strings"

// ParseOrigins parses a comma-separated CORS origin list.
// Entries are trimmed, trailing slashes dropped and duplicates removed, keeping
// first-seen order. A wildcard anywhere collapses the list to "*".
// Returns nil when no origin remains.
func ParseOrigins(s string) []string {
	var origins []string
	seen := make(map[string]bool)

	for _, v := range strings.Split(s, ",") {
		origin := strings.TrimRight(strings.TrimSpace(v), "/")
		if origin == "" || seen[origin] {
			continue
		}
		if origin == "*" {
			return []string{"*"}
		}
		seen[origin] = true
		origins = append(origins, origin)
	}

	return origins
}
