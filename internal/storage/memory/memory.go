// Package memory keeps submissions in process, for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"pettycash/internal/core"
	"pettycash/internal/storage"
)

var _ storage.FormWriter = (*Store)(nil)

type Store struct {
	mu      sync.Mutex
	records []core.FormRecord
	err     error
}

func New() *Store {
	return &Store{}
}

// Insert stores a copy of rec.
func (s *Store) Insert(_ context.Context, rec core.FormRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	for _, r := range s.records {
		if r.ID == rec.ID {
			return "", errors.New("duplicate submission id " + rec.ID)
		}
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	s.records = append(s.records, rec)
	return rec.ID, nil
}

// Records returns the stored submissions in insertion order.
func (s *Store) Records() []core.FormRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.FormRecord(nil), s.records...)
}

// FailWith makes later inserts return err. A nil err clears it.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
