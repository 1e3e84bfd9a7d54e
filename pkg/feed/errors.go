package feed

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies why a feed was rejected.
type Reason string

// Rejection reasons.
const (
	ReasonMissingColumns Reason = "missing_columns"
	ReasonNoValidRows    Reason = "no_valid_rows"
)

// Sentinels matched by FormatError.Is.
var (
	ErrMissingColumns = errors.New("feed is missing required columns")
	ErrNoValidRows    = errors.New("feed has no valid rows")
)

// FormatError is returned when a feed cannot be used at all. Its message is
// safe to show to the person who uploaded the file.
type FormatError struct {
	Reason  Reason
	Columns []string
}

// Error implements the error interface
func (e *FormatError) Error() string {
	switch e.Reason {
	case ReasonMissingColumns:
		return fmt.Sprintf("CSV must contain columns %s", strings.Join(e.Columns, " and "))
	case ReasonNoValidRows:
		return "No valid rows to process"
	default:
		return "invalid feed"
	}
}

// Is implements errors.Is support
func (e *FormatError) Is(target error) bool {
	switch e.Reason {
	case ReasonMissingColumns:
		return target == ErrMissingColumns
	case ReasonNoValidRows:
		return target == ErrNoValidRows
	}
	return false
}
