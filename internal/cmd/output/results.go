package output

import (
	"io"
	"time"

	"github.com/pricesync/pricesync/internal/cmd/table"
	"github.com/pricesync/pricesync/internal/credentials"
	"github.com/pricesync/pricesync/internal/pricesync"
)

// Printer writes results to w in a fixed format.
type Printer struct {
	w      io.Writer
	format Format
}

// NewPrinter returns a Printer for format.
func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format}
}

// Sync prints a sync result.
func (p *Printer) Sync(r *pricesync.SyncResult) error {
	if p.format.IsTable() {
		return p.emit(table.SyncToTableData(r, p.format == FormatWide))
	}
	return p.emit(r)
}

// Preview prints a preview result. Table output is followed by a summary line.
func (p *Printer) Preview(r *pricesync.PreviewResult) error {
	if !p.format.IsTable() {
		return p.emit(r)
	}
	if err := p.emit(table.PreviewToTableData(r, p.format == FormatWide)); err != nil {
		return err
	}
	_, err := io.WriteString(p.w, r.Summary()+"\n")
	return err
}

// Accounts prints the connected accounts.
func (p *Printer) Accounts(creds []credentials.Credential, now time.Time) error {
	if p.format.IsTable() {
		return p.emit(table.CredentialsToTableData(creds, now))
	}
	if creds == nil {
		creds = []credentials.Credential{}
	}
	return p.emit(creds)
}

// Any prints arbitrary data.
func (p *Printer) Any(data any) error {
	return p.emit(data)
}

func (p *Printer) emit(data any) error {
	return NewFormatter(p.format).Format(p.w, data)
}
