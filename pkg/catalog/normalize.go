package catalog

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/cases"
)

// Normalize case-folds s, collapses whitespace runs to one space and trims.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// Casers carry state, so each call gets its own.
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// tokenSort normalizes s and orders its whitespace-separated tokens.
func tokenSort(s string) string {
	tokens := strings.Fields(Normalize(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Similarity scores a and b in [0, 1] after normalization and token sorting,
// using the sequence matcher ratio over characters. Empty input scores 0.
func Similarity(a, b string) float64 {
	return ratio(tokenSort(a), tokenSort(b))
}

func ratio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}
