// Package catalog holds the remote catalog entry model and resolves feed
// identifiers against a materialized catalog by exact or fuzzy match.
package catalog

import "strings"

// Entry is one item of the remote Products & Services catalog.
type Entry struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Code        string   `json:"code,omitempty" yaml:"code,omitempty"`
	CurrentCost *float64 `json:"current_cost,omitempty" yaml:"current_cost,omitempty"`
}

// MatchesExactly reports whether identifier equals the entry's trimmed code
// (when preferCode is set) or trimmed name. Comparison is case-sensitive.
func (e Entry) MatchesExactly(identifier string, preferCode bool) bool {
	if preferCode && e.Code != "" && strings.TrimSpace(e.Code) == identifier {
		return true
	}
	return strings.TrimSpace(e.Name) == identifier
}

// Match is the outcome of resolving one identifier.
// A zero Match (empty EntryID) means not found. Score is the fuzzy
// similarity in [0, 1]; exact matches always score 1.
type Match struct {
	EntryID     string   `json:"entry_id,omitempty"`
	CurrentCost *float64 `json:"current_cost,omitempty"`
	MatchedName string   `json:"matched_name,omitempty"`
	Fuzzy       bool     `json:"fuzzy,omitempty"`
	Score       float64  `json:"score,omitempty"`
}

// Found reports whether the match names a catalog entry.
func (m Match) Found() bool {
	return m.EntryID != ""
}

// EffectiveCost returns the current cost, treating unknown as zero.
func (m Match) EffectiveCost() float64 {
	if m.CurrentCost == nil {
		return 0
	}
	return *m.CurrentCost
}

// ExactMatch returns the match produced by an exact hit on e.
func (e Entry) ExactMatch() Match {
	return matchFor(e, false, 1)
}

func matchFor(e Entry, fuzzy bool, score float64) Match {
	return Match{
		EntryID:     e.ID,
		CurrentCost: e.CurrentCost,
		MatchedName: e.Name,
		Fuzzy:       fuzzy,
		Score:       score,
	}
}
