package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinels returned when no extraction rule matches.
const (
	UnknownReferenceNumber = "Unknown OR Number"
	UnknownDateTime        = "Unknown Date Time"
	UnknownAmount          = "0.00"
)

type (
	// ExtractionResult holds the normalized fields read from one receipt.
	// Every field is always populated, either with a capture or a sentinel.
	ExtractionResult struct {
		ReferenceNumber string `json:"or_number"`
		Date            string `json:"date"`
		Time            string `json:"time"`
		AmountPaid      string `json:"amount_paid"`
	}

	// Submitter identifies the person filing the reimbursement.
	Submitter struct {
		Name     string
		IDNumber string
		Position string
		Division string
		TeamHead string
	}

	// Submission is one reimbursement form as posted by the client.
	Submission struct {
		Submitter
		Month string // period label, e.g. "2024-03"
		PID   string
	}

	// FormRecord is the flat document persisted for every submission.
	FormRecord struct {
		ID              string    `json:"id" firestore:"-"`
		Name            string    `json:"name" firestore:"name"`
		IDNumber        string    `json:"id_number" firestore:"id_number"`
		Position        string    `json:"position" firestore:"position"`
		Division        string    `json:"division" firestore:"division"`
		TeamHead        string    `json:"team_head" firestore:"team_head"`
		Month           string    `json:"month" firestore:"month"`
		PID             string    `json:"pid" firestore:"pid"`
		ReferenceNumber string    `json:"or_number" firestore:"or_number"`
		Date            string    `json:"date" firestore:"date"`
		Time            string    `json:"time" firestore:"time"`
		AmountPaid      string    `json:"amount_paid" firestore:"amount_paid"`
		ImageURI        string    `json:"image_uri,omitempty" firestore:"image_uri,omitempty"`
		SubmittedAt     time.Time `json:"submitted_at" firestore:"submitted_at"`
	}

	// LedgerRow is one data row appended under the ledger header.
	LedgerRow struct {
		PID             string
		ReferenceNumber string
		Date            string
		Time            string
		AmountPaid      string
	}
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrFieldTooLong = errors.New("field too long")
)

const maxFieldLength = 200

// Validate checks that every form field is present. The returned error wraps
// ErrMissingField and names the first absent field.
func (s Submission) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"name", s.Name},
		{"idNumber", s.IDNumber},
		{"position", s.Position},
		{"division", s.Division},
		{"teamHead", s.TeamHead},
		{"month", s.Month},
		{"pid", s.PID},
	}
	for _, f := range fields {
		v := strings.TrimSpace(f.value)
		if v == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
		if len(v) > maxFieldLength {
			return fmt.Errorf("%w: %s (max %d characters)", ErrFieldTooLong, f.name, maxFieldLength)
		}
	}
	return nil
}

// Record builds the document-store record for this submission.
func (s Submission) Record(x ExtractionResult, submittedAt time.Time) FormRecord {
	return FormRecord{
		Name:            s.Name,
		IDNumber:        s.IDNumber,
		Position:        s.Position,
		Division:        s.Division,
		TeamHead:        s.TeamHead,
		Month:           s.Month,
		PID:             s.PID,
		ReferenceNumber: x.ReferenceNumber,
		Date:            x.Date,
		Time:            x.Time,
		AmountPaid:      x.AmountPaid,
		SubmittedAt:     submittedAt,
	}
}

// Row builds the ledger row for this submission.
func (s Submission) Row(x ExtractionResult) LedgerRow {
	return LedgerRow{
		PID:             s.PID,
		ReferenceNumber: x.ReferenceNumber,
		Date:            x.Date,
		Time:            x.Time,
		AmountPaid:      x.AmountPaid,
	}
}

// Values returns the row in ledger column order (A..E). A parseable amount is
// emitted as a JSON number with the scale it was read with, so that it is
// stored as a number even when the row is written raw; anything else is kept
// as text.
func (r LedgerRow) Values() []any {
	var amount any = r.AmountPaid
	if d, err := ParseAmount(r.AmountPaid); err == nil {
		amount = json.Number(amountLiteral(d))
	}
	return []any{r.PID, r.ReferenceNumber, r.Date, r.Time, amount}
}

func amountLiteral(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// Values returns the submitter in header column order (A..E).
func (s Submitter) Values() []any {
	return []any{s.Name, s.IDNumber, s.Position, s.Division, s.TeamHead}
}
