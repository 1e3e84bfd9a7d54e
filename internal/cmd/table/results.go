package table

import (
	"strconv"
	"strings"
	"time"

	"github.com/pricesync/pricesync/internal/credentials"
	"github.com/pricesync/pricesync/internal/pricesync"
)

const maxDescription = 48

// SyncToTableData converts a sync result to a key-value table. Wide output
// lists the unmatched and failed identifiers.
func SyncToTableData(r *pricesync.SyncResult, wide bool) Data {
	rows := [][]string{
		{"Run", r.RunID},
		{"Account", r.AccountID},
		{"Updated", strconv.Itoa(r.Updated)},
		{"Not found", strconv.Itoa(len(r.NotFound))},
		{"Failed", strconv.Itoa(len(r.Failed))},
		{"Protected", strconv.Itoa(r.SkippedProtected)},
		{"Fuzzy matched", strconv.Itoa(r.FuzzyMatched)},
		{"Markup", FormatPercent(r.MarkupPercent)},
		{"Code matching", FormatBool(r.CodeMatching)},
	}
	if wide {
		rows = append(rows,
			[]string{"Not found identifiers", joinOrDash(r.NotFound)},
			[]string{"Failed identifiers", joinOrDash(r.Failed)},
		)
	}
	if r.Error != "" {
		rows = append(rows, []string{"Error", r.Error})
	}

	return Data{
		Headers:         []string{"Property", "Value"},
		Rows:            rows,
		ColumnAlignment: []Align{AlignLeft, AlignLeft},
	}
}

// PreviewToTableData lists every matched row with its direction. Unchanged rows
// are only listed in wide output.
func PreviewToTableData(r *pricesync.PreviewResult, wide bool) Data {
	headers := []string{"Part", "Change", "Feed Cost", "Current Cost", "Jobber Name"}
	if wide {
		headers = append(headers, "Fuzzy", "Description")
	}

	var rows [][]string
	add := func(change string, items []pricesync.PreviewItem) {
		for _, item := range items {
			row := []string{
				item.Identifier,
				change,
				FormatCost(item.FeedCost),
				FormatCost(item.CurrentCost),
				dash(item.MatchedName),
			}
			if wide {
				row = append(row, FormatBool(item.Fuzzy), Truncate(dash(item.Description), maxDescription))
			}
			rows = append(rows, row)
		}
	}
	add("increase", r.IncreasesDetail)
	add("decrease", r.DecreasesDetail)
	if wide {
		add("unchanged", r.UnchangedDetail)
	}

	align := []Align{AlignLeft, AlignLeft, AlignRight, AlignRight, AlignLeft}
	if wide {
		align = append(align, AlignCenter, AlignLeft)
	}

	return Data{
		Headers:         headers,
		Rows:            rows,
		ColumnAlignment: align,
	}
}

// CredentialsToTableData lists connected accounts. Tokens are never shown.
func CredentialsToTableData(creds []credentials.Credential, now time.Time) Data {
	rows := make([][]string, 0, len(creds))
	for _, c := range creds {
		rows = append(rows, []string{
			c.AccountID,
			dash(c.AccountName),
			FormatExpiry(c.ExpiresAt, now),
			c.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	return Data{
		Headers: []string{"Account", "Name", "Token", "Updated"},
		Rows:    rows,
	}
}

// FormatCost formats a cost with two decimals.
func FormatCost(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatPercent formats a markup percentage, "-" when no markup applies.
func FormatPercent(p float64) string {
	if p <= 0 {
		return "-"
	}
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}

// FormatBool renders a flag as yes or no.
func FormatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// FormatExpiry describes when an access token expires relative to now.
func FormatExpiry(expiresAt *time.Time, now time.Time) string {
	if expiresAt == nil {
		return "no expiry"
	}
	d := expiresAt.Sub(now).Truncate(time.Second)
	if d <= 0 {
		return "expired"
	}
	return "expires in " + d.String()
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 4 {
		return s
	}
	return string(r[:n-3]) + "..."
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
