// Package storage persists every submitted reimbursement form as a flat
// document. The default implementation is a SQLite database; Firestore and
// in-memory stores live in subpackages.
package storage

import (
	"context"

	"pettycash/internal/core"
)

// FormWriter inserts one record per submission and returns its id.
type FormWriter interface {
	Insert(ctx context.Context, rec core.FormRecord) (id string, err error)
}
