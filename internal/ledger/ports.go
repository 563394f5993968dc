// Package ledger maintains one spreadsheet ledger per reimbursement period.
//
// A ledger is found by its deterministic title, created with a fixed template
// on first use, appended to with the backend's own append primitive and kept
// with a running total that always covers every data row.
package ledger

import (
	"context"
	"errors"
)

// ID identifies a ledger resource in a backend (a spreadsheet id for Google).
type ID string

// ValueMode controls how written values are interpreted by the backend.
type ValueMode string

const (
	// Raw stores values verbatim; formulas are kept as text.
	Raw ValueMode = "RAW"
	// UserEntered parses values as if typed into the UI; formulas evaluate.
	UserEntered ValueMode = "USER_ENTERED"
)

// Formula marks a cell value that must be stored as a formula rather than
// as text, whatever the write mode.
type Formula string

// Sheet is the initial content of a ledger tab, laid out from A1.
type Sheet struct {
	Name string
	Rows [][]any
}

// ErrLedgerNotFound is returned by Resolve when no ledger has the title.
var ErrLedgerNotFound = errors.New("ledger not found")

// Backend is the spreadsheet store the service writes to.
type Backend interface {
	// Resolve returns the ledger titled title. When several resources share
	// the title the oldest one is returned. Absence is ErrLedgerNotFound;
	// every other failure is a transport error.
	Resolve(ctx context.Context, title string) (ID, error)
	// Create makes a new ledger titled title whose only tab already holds
	// seed. A ledger is never observable without its seed rows.
	Create(ctx context.Context, title string, seed Sheet) (ID, error)
	// WriteValues overwrites the block starting at rng.
	WriteValues(ctx context.Context, id ID, rng string, values [][]any, mode ValueMode) error
	// AppendValues appends rows after the table found at rng and returns the
	// A1 range that was written. Values are stored raw.
	AppendValues(ctx context.Context, id ID, rng string, values [][]any) (updatedRange string, err error)
}
