// Package model maps execution categories to concrete model and CLI bindings.
// Agents in an ontology name a category ("High Reasoning", "Fast Execution",
// "Daily Driver") instead of a model; the registry resolves the category to an
// ordered chain of endpoints with health tracking for fallback.
package model

import "strings"

// Category is a semantic execution class used for model selection.
type Category string

const (
	// CategoryHighReasoning is for architecture and planning work.
	CategoryHighReasoning Category = "High Reasoning"

	// CategoryFastExecution is for cheap, quick transformations.
	CategoryFastExecution Category = "Fast Execution"

	// CategoryDailyDriver is the general-purpose default.
	CategoryDailyDriver Category = "Daily Driver"
)

// Categories lists the known categories in display order.
var Categories = []Category{CategoryHighReasoning, CategoryFastExecution, CategoryDailyDriver}

// IsValid checks if a category is one of the known categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryHighReasoning, CategoryFastExecution, CategoryDailyDriver:
		return true
	}
	return false
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// ParseCategory converts a string to a Category, ignoring case, spaces, hyphens
// and underscores. Returns empty for unknown values.
func ParseCategory(s string) Category {
	key := categoryKey(s)
	for _, c := range Categories {
		if categoryKey(string(c)) == key {
			return c
		}
	}
	return ""
}

func categoryKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == ' ' || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
