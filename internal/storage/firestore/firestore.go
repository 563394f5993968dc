// Package firestore stores submissions as Firestore documents.
package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gfirestore "cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"pettycash/internal/core"
	"pettycash/internal/gcp"
	"pettycash/internal/storage"
)

// DefaultCollection holds the submissions when no collection is configured.
const DefaultCollection = "reimbursement_forms"

var _ storage.FormWriter = (*Store)(nil)

type Store struct {
	client     *gfirestore.Client
	collection string
}

// New connects to the project's default database.
func New(ctx context.Context, projectID, collection string, creds gcp.Credentials) (*Store, error) {
	opts, err := creds.ClientOptions(ctx, "https://www.googleapis.com/auth/datastore")
	if err != nil {
		return nil, fmt.Errorf("google credentials: %w", err)
	}
	client, err := gfirestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return NewWithClient(client, collection), nil
}

func NewWithClient(client *gfirestore.Client, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{client: client, collection: collection}
}

// Insert creates a document keyed by the record id, generating one if unset.
// Create fails if the document already exists.
func (s *Store) Insert(ctx context.Context, rec core.FormRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	if _, err := s.client.Collection(s.collection).Doc(rec.ID).Create(ctx, rec); err != nil {
		return "", fmt.Errorf("create document %s/%s: %w", s.collection, rec.ID, err)
	}
	slog.InfoContext(ctx, "Submission saved to Firestore",
		"collection", s.collection,
		"id", rec.ID,
		"month", rec.Month)
	return rec.ID, nil
}

// Get reads a submission back. Used by tests and operators.
func (s *Store) Get(ctx context.Context, id string) (core.FormRecord, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		return core.FormRecord{}, fmt.Errorf("get document %s/%s: %w", s.collection, id, err)
	}
	var rec core.FormRecord
	if err := snap.DataTo(&rec); err != nil {
		return core.FormRecord{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	rec.ID = snap.Ref.ID
	return rec, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
