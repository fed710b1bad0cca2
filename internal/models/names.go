package models

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeName trims, collapses inner whitespace and case-folds a person name
// so free-text assignee fields compare equal to directory records.
func NormalizeName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return cases.Fold().String(strings.Join(fields, " "))
}

// NormalizeAssignees trims names and drops blanks and duplicates (by normalized key),
// keeping the first spelling seen.
func NormalizeAssignees(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		display := strings.Join(strings.Fields(name), " ")
		key := NormalizeName(display)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, display)
	}
	return out
}
