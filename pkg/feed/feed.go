// Package feed parses supplier cost-price feeds into validated rows.
//
// A feed is CSV text, optionally prefixed with a UTF-8 byte order mark. The
// header row may appear anywhere in the document; everything above it is
// ignored. Rows that cannot be read as an identifier plus a non-negative cost
// are skipped rather than failing the whole feed.
package feed

import (
	"bytes"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/pricesync/pricesync/pkg/errors"
)

// Default column names.
const (
	DefaultIdentifierColumn  = "Part_Num"
	DefaultCostColumn        = "Trade_Cost"
	DefaultDescriptionColumn = "Description"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row is one validated feed line.
type Row struct {
	Identifier  string  `json:"part_num" yaml:"part_num"`
	Cost        float64 `json:"cost" yaml:"cost"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Options controls which columns are read.
type Options struct {
	IdentifierColumn  string
	CostColumn        string
	DescriptionColumn string
}

// Option configures parsing.
type Option func(*Options)

// Defaults returns the column names used by supplier exports.
func Defaults() *Options {
	return &Options{
		IdentifierColumn:  DefaultIdentifierColumn,
		CostColumn:        DefaultCostColumn,
		DescriptionColumn: DefaultDescriptionColumn,
	}
}

// WithIdentifierColumn overrides the identifier column name.
func WithIdentifierColumn(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.IdentifierColumn = name
		}
	}
}

// WithCostColumn overrides the cost column name.
func WithCostColumn(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.CostColumn = name
		}
	}
}

// WithDescriptionColumn overrides the optional description column name.
func WithDescriptionColumn(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.DescriptionColumn = name
		}
	}
}

// Parse reads feed bytes into rows in document order.
// It returns a *FormatError when the header is missing or no row survives.
func Parse(data []byte, opts ...Option) ([]Row, error) {
	o := Defaults()
	for _, opt := range opts {
		opt(o)
	}

	records := readRecords(bytes.TrimPrefix(data, utf8BOM))

	headerIdx := -1
	for i, record := range records {
		if hasColumns(record, o.IdentifierColumn, o.CostColumn) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, &FormatError{Reason: ReasonMissingColumns, Columns: []string{o.IdentifierColumn, o.CostColumn}}
	}

	header := records[headerIdx]
	idIdx := columnIndex(header, o.IdentifierColumn)
	costIdx := columnIndex(header, o.CostColumn)
	descIdx := columnIndex(header, o.DescriptionColumn)
	minLen := max(idIdx, costIdx) + 1

	var rows []Row
	for _, record := range records[headerIdx+1:] {
		if len(record) < minLen {
			continue
		}
		identifier := strings.TrimSpace(record[idIdx])
		if identifier == "" {
			continue
		}
		cost, ok := ParseCost(record[costIdx])
		if !ok {
			continue
		}
		var description string
		if descIdx >= 0 && descIdx < len(record) {
			description = strings.TrimSpace(record[descIdx])
		}
		rows = append(rows, Row{Identifier: identifier, Cost: cost, Description: description})
	}

	if len(rows) == 0 {
		return nil, &FormatError{Reason: ReasonNoValidRows}
	}
	return rows, nil
}

// ParseFile reads and parses a feed from disk.
func ParseFile(path string, opts ...Option) ([]Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	return Parse(data, opts...)
}

// ParseCost cleans a raw cost cell and parses it. Currency symbols, the
// mojibake prefix some spreadsheets emit before a pound sign, and thousands
// separators are removed. Negative, NaN and infinite values are rejected.
func ParseCost(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || r == 'Â' || unicode.Is(unicode.Sc, r) {
			return -1
		}
		return r
	}, raw)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, false
	}

	cost, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return 0, false
	}
	return cost, true
}

// readRecords reads every record it can. A malformed line is dropped and
// reading resumes on the next one.
func readRecords(data []byte) [][]string {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				continue
			}
			break
		}
		records = append(records, record)
	}
	return records
}

func hasColumns(record []string, names ...string) bool {
	for _, name := range names {
		if columnIndex(record, name) < 0 {
			return false
		}
	}
	return true
}

func columnIndex(record []string, name string) int {
	if name == "" {
		return -1
	}
	for i, cell := range record {
		if strings.TrimSpace(cell) == name {
			return i
		}
	}
	return -1
}
