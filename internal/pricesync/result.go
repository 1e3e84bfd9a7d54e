package pricesync

import (
	"fmt"
)

// SyncResult summarizes a sync run. Counts accumulated before a terminal
// error are kept.
type SyncResult struct {
	RunID            string   `json:"run_id" yaml:"run_id"`
	AccountID        string   `json:"account_id" yaml:"account_id"`
	Updated          int      `json:"updated" yaml:"updated"`
	NotFound         []string `json:"skus_not_found" yaml:"skus_not_found"`
	Failed           []string `json:"failed" yaml:"failed"`
	SkippedProtected int      `json:"skipped_protected" yaml:"skipped_protected"`
	FuzzyMatched     int      `json:"fuzzy_matched_count" yaml:"fuzzy_matched_count"`
	MarkupPercent    float64  `json:"markup_percent" yaml:"markup_percent"`
	CodeMatching     bool     `json:"code_matching" yaml:"code_matching"`
	Error            string   `json:"error,omitempty" yaml:"error,omitempty"`
	Cause            error    `json:"-" yaml:"-"`
}

// PreviewItem describes one matched row in a preview.
type PreviewItem struct {
	Identifier  string  `json:"part_num" yaml:"part_num"`
	FeedCost    float64 `json:"csv_cost" yaml:"csv_cost"`
	CurrentCost float64 `json:"current_cost" yaml:"current_cost"`
	Description string  `json:"description" yaml:"description"`
	MatchedName string  `json:"jobber_name" yaml:"jobber_name"`
	Fuzzy       bool    `json:"fuzzy" yaml:"fuzzy"`
}

// PreviewResult classifies each resolved row against its current cost.
type PreviewResult struct {
	RunID           string        `json:"run_id" yaml:"run_id"`
	AccountID       string        `json:"account_id" yaml:"account_id"`
	Increases       int           `json:"increases" yaml:"increases"`
	Decreases       int           `json:"decreases" yaml:"decreases"`
	Unchanged       int           `json:"unchanged" yaml:"unchanged"`
	NotFound        []string      `json:"skus_not_found" yaml:"skus_not_found"`
	FuzzyMatched    int           `json:"fuzzy_matched_count" yaml:"fuzzy_matched_count"`
	IncreasesDetail []PreviewItem `json:"increases_detail" yaml:"increases_detail"`
	DecreasesDetail []PreviewItem `json:"decreases_detail" yaml:"decreases_detail"`
	UnchangedDetail []PreviewItem `json:"unchanged_detail" yaml:"unchanged_detail"`
	CodeMatching    bool          `json:"code_matching" yaml:"code_matching"`
	Error           string        `json:"error,omitempty" yaml:"error,omitempty"`
	Cause           error         `json:"-" yaml:"-"`
}

func newSyncResult(runID, accountID string, o *Options) *SyncResult {
	return &SyncResult{
		RunID:         runID,
		AccountID:     accountID,
		NotFound:      []string{},
		Failed:        []string{},
		MarkupPercent: o.MarkupPercent,
	}
}

func newPreviewResult(runID, accountID string) *PreviewResult {
	return &PreviewResult{
		RunID:           runID,
		AccountID:       accountID,
		NotFound:        []string{},
		IncreasesDetail: []PreviewItem{},
		DecreasesDetail: []PreviewItem{},
		UnchangedDetail: []PreviewItem{},
	}
}

// HasError reports whether the run stopped on a terminal error.
func (r *SyncResult) HasError() bool { return r.Error != "" }

// HasError reports whether the run stopped on a terminal error.
func (r *PreviewResult) HasError() bool { return r.Error != "" }

// Summary returns a one-line description of the run.
func (r *SyncResult) Summary() string {
	s := fmt.Sprintf("%d updated, %d not found, %d failed, %d protected, %d fuzzy",
		r.Updated, len(r.NotFound), len(r.Failed), r.SkippedProtected, r.FuzzyMatched)
	if r.Error != "" {
		s += " (stopped: " + r.Error + ")"
	}
	return s
}

// Summary returns a one-line description of the preview.
func (r *PreviewResult) Summary() string {
	s := fmt.Sprintf("%d increases, %d decreases, %d unchanged, %d not found, %d fuzzy",
		r.Increases, r.Decreases, r.Unchanged, len(r.NotFound), r.FuzzyMatched)
	if r.Error != "" {
		s += " (stopped: " + r.Error + ")"
	}
	return s
}
