package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"pettycash/internal/core"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("submission not found")

var _ FormWriter = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Insert implements FormWriter. Records without an id get a random UUID;
// a zero SubmittedAt is set to now.
func (r *SQLiteRepository) Insert(ctx context.Context, rec core.FormRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions (
			id, name, id_number, position, division, team_head, month, pid,
			or_number, date, time, amount_paid, image_uri, submitted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.IDNumber, rec.Position, rec.Division, rec.TeamHead, rec.Month, rec.PID,
		rec.ReferenceNumber, rec.Date, rec.Time, rec.AmountPaid, rec.ImageURI, rec.SubmittedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("insert submission: %w", err)
	}

	slog.InfoContext(ctx, "Submission saved to SQLite",
		"id", rec.ID,
		"month", rec.Month,
		"pid", rec.PID,
		"or_number", rec.ReferenceNumber)

	return rec.ID, nil
}

// Get loads a submission by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (core.FormRecord, error) {
	var rec core.FormRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, id_number, position, division, team_head, month, pid,
		       or_number, date, time, amount_paid, image_uri, submitted_at
		FROM submissions WHERE id = ?`, id).Scan(
		&rec.ID, &rec.Name, &rec.IDNumber, &rec.Position, &rec.Division, &rec.TeamHead, &rec.Month, &rec.PID,
		&rec.ReferenceNumber, &rec.Date, &rec.Time, &rec.AmountPaid, &rec.ImageURI, &rec.SubmittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.FormRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return core.FormRecord{}, fmt.Errorf("get submission %s: %w", id, err)
	}
	return rec, nil
}

// CountByMonth returns how many submissions were stored for a period.
func (r *SQLiteRepository) CountByMonth(ctx context.Context, month string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE month = ?`, month).Scan(&n); err != nil {
		return 0, fmt.Errorf("count submissions for %s: %w", month, err)
	}
	return n, nil
}
