package catalog

// Options controls a resolution pass.
type Options struct {
	// PreferCode compares against entry codes before names.
	PreferCode bool
	// Fuzzy enables the similarity pass when no exact match exists.
	Fuzzy bool
	// Threshold is the minimum similarity accepted, clamped to [0, 1].
	// Zero disables the fuzzy pass.
	Threshold float64
}

// ClampThreshold bounds t to [0, 1].
func ClampThreshold(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}

// indexed is an entry with its comparison keys computed once.
type indexed struct {
	entry      Entry
	normName   string
	normCode   string
	sortedName string
	sortedCode string
}

// Index is an in-memory catalog prepared for repeated resolution.
// It is read-only after construction and safe for concurrent use.
type Index struct {
	entries []indexed
}

// NewIndex prepares entries, preserving catalog order.
func NewIndex(entries []Entry) *Index {
	idx := &Index{entries: make([]indexed, len(entries))}
	for i, e := range entries {
		idx.entries[i] = indexed{
			entry:      e,
			normName:   Normalize(e.Name),
			normCode:   Normalize(e.Code),
			sortedName: tokenSort(e.Name),
			sortedCode: tokenSort(e.Code),
		}
	}
	return idx
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Resolve finds the entry for identifier.
//
// The exact pass walks entries in catalog order and, per entry, compares the
// normalized identifier to the normalized code (when preferred) and then the
// normalized name. The first hit wins.
//
// The fuzzy pass runs only when the exact pass found nothing. Each entry is
// scored as the larger of its name and code similarity. The highest score at
// or above the threshold wins; two entries sharing that score are ambiguous
// and resolve to nothing.
func (idx *Index) Resolve(identifier string, opts Options) Match {
	ni := Normalize(identifier)
	if ni == "" {
		return Match{}
	}

	for _, c := range idx.entries {
		if opts.PreferCode && c.normCode != "" && c.normCode == ni {
			return matchFor(c.entry, false, 1)
		}
		if c.normName == ni {
			return matchFor(c.entry, false, 1)
		}
	}

	threshold := ClampThreshold(opts.Threshold)
	if !opts.Fuzzy || threshold <= 0 {
		return Match{}
	}

	sortedID := tokenSort(identifier)
	var (
		best      *indexed
		bestScore float64
		tie       bool
	)
	for i := range idx.entries {
		c := &idx.entries[i]
		score := ratio(sortedID, c.sortedName)
		if opts.PreferCode && c.sortedCode != "" {
			score = max(score, ratio(sortedID, c.sortedCode))
		}
		if score < threshold {
			continue
		}
		switch {
		case score > bestScore:
			best, bestScore, tie = c, score, false
		case score == bestScore && best != nil:
			tie = true
		}
	}

	if best == nil || tie {
		return Match{}
	}
	return matchFor(best.entry, true, bestScore)
}

// Resolve is a convenience wrapper for a single lookup.
func Resolve(identifier string, entries []Entry, opts Options) Match {
	return NewIndex(entries).Resolve(identifier, opts)
}
