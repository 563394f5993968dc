package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"pettycash/internal/cache"
	"pettycash/internal/core"
	"pettycash/internal/log"
)

// Options configures a Service.
type Options struct {
	// TitlePrefix is prepended to the period label to build the ledger title.
	TitlePrefix string
	// SheetName is the tab every range refers to.
	SheetName string
	// ProvisionOnLookupError treats any lookup failure as absence and creates
	// a new ledger. Off by default since a transient error then forks the
	// period into a second ledger.
	ProvisionOnLookupError bool
	// IDs remembers ledger ids by title once resolved or created, covering
	// the window in which Drive search does not yet list a new spreadsheet.
	// Nil disables it.
	IDs cache.Cache[ID]
}

// DefaultOptions returns the production layout.
func DefaultOptions() Options {
	return Options{TitlePrefix: "Petty Cash_", SheetName: "Sheet1"}
}

// Service locates, provisions and appends to period ledgers.
type Service struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
	flight  singleflight.Group
}

// Entry describes a row recorded in a ledger.
type Entry struct {
	Title        string
	LedgerID     ID
	UpdatedRange string
}

// NewService wires a Service over backend.
func NewService(backend Backend, opts Options, logger *slog.Logger) *Service {
	def := DefaultOptions()
	if opts.TitlePrefix == "" {
		opts.TitlePrefix = def.TitlePrefix
	}
	if opts.SheetName == "" {
		opts.SheetName = def.SheetName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: backend,
		opts:    opts,
		logger:  logger.With(log.FieldComponent, log.ComponentLedger),
	}
}

// Title returns the ledger title for period.
func (s *Service) Title(period string) string {
	return Title(s.opts.TitlePrefix, period)
}

// Locate resolves the ledger titled title.
func (s *Service) Locate(ctx context.Context, title string) (ID, error) {
	id, err := s.backend.Resolve(ctx, title)
	if err != nil {
		if errors.Is(err, ErrLedgerNotFound) {
			return "", err
		}
		return "", fmt.Errorf("locate ledger %q: %w", title, err)
	}
	return id, nil
}

// Provision creates the ledger titled title with the template headed by
// submitter and the total formula in one backend call. Afterwards the title
// is resolved again and the oldest ledger wins, so processes racing on the
// same period converge on one ledger.
func (s *Service) Provision(ctx context.Context, title string, submitter core.Submitter) (ID, error) {
	seed := Sheet{Name: s.opts.SheetName, Rows: Template(submitter)}
	created, err := s.backend.Create(ctx, title, seed)
	if err != nil {
		return "", fmt.Errorf("create ledger %q: %w", title, err)
	}
	s.logger.InfoContext(ctx, "Ledger provisioned",
		log.FieldLedgerTitle, title,
		log.FieldLedgerID, string(created))

	winner, err := s.backend.Resolve(ctx, title)
	if err != nil {
		s.logger.WarnContext(ctx, "Re-resolve after provisioning failed, keeping created ledger",
			log.FieldLedgerTitle, title,
			log.FieldLedgerID, string(created),
			log.FieldError, err)
		return created, nil
	}
	if winner != created {
		s.logger.WarnContext(ctx, "Concurrent provisioning detected, adopting oldest ledger",
			log.FieldLedgerTitle, title,
			log.FieldLedgerID, string(winner),
			"orphan_ledger_id", string(created))
	}
	return winner, nil
}

// Ensure returns the ledger for title, provisioning it on first use.
// Concurrent calls for the same title share one lookup and at most one
// creation. The shared call is detached from the cancellation of whichever
// caller started it; each caller stops waiting when its own ctx ends.
func (s *Service) Ensure(ctx context.Context, title string, submitter core.Submitter) (ID, error) {
	if s.opts.IDs != nil {
		if id, ok := s.opts.IDs.Get(title); ok {
			return id, nil
		}
	}
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(title, func() (any, error) {
		id, err := s.Locate(shared, title)
		switch {
		case err == nil:
			return id, nil
		case errors.Is(err, ErrLedgerNotFound):
		case s.opts.ProvisionOnLookupError:
			s.logger.WarnContext(shared, "Ledger lookup failed, provisioning a new ledger anyway",
				log.FieldLedgerTitle, title,
				log.FieldError, err)
		default:
			return ID(""), err
		}
		return s.Provision(shared, title, submitter)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("ensure ledger %q: %w", title, context.Cause(ctx))
	case res = <-ch:
	}
	if res.Err != nil {
		return "", res.Err
	}
	id := res.Val.(ID)
	if s.opts.IDs != nil {
		s.opts.IDs.Set(title, id)
	}
	return id, nil
}

// forget drops the cached id for title after a write to it failed.
func (s *Service) forget(title string) {
	if s.opts.IDs != nil {
		s.opts.IDs.Delete(title)
	}
}

// Append adds row below the data header and returns the written range.
func (s *Service) Append(ctx context.Context, id ID, row core.LedgerRow) (string, error) {
	rng := A1(s.opts.SheetName, fmt.Sprintf("A%d", HeaderRow))
	updated, err := s.backend.AppendValues(ctx, id, rng, [][]any{row.Values()})
	if err != nil {
		return "", fmt.Errorf("append to ledger %s: %w", id, err)
	}
	return updated, nil
}

// RefreshTotal rewrites the aggregate formula in the total row.
func (s *Service) RefreshTotal(ctx context.Context, id ID) error {
	cell := A1(s.opts.SheetName, fmt.Sprintf("%s%d", AmountColumn, TotalRow))
	if err := s.backend.WriteValues(ctx, id, cell, [][]any{{TotalFormula}}, UserEntered); err != nil {
		return fmt.Errorf("refresh total of ledger %s: %w", id, err)
	}
	return nil
}

// Record appends the extraction for sub to its period ledger, creating the
// ledger if needed, and refreshes the total.
func (s *Service) Record(ctx context.Context, sub core.Submission, x core.ExtractionResult) (Entry, error) {
	title := s.Title(sub.Month)
	id, err := s.Ensure(ctx, title, sub.Submitter)
	if err != nil {
		return Entry{Title: title}, err
	}
	updated, err := s.Append(ctx, id, sub.Row(x))
	if err != nil {
		s.forget(title)
		return Entry{Title: title, LedgerID: id}, err
	}
	if err := s.RefreshTotal(ctx, id); err != nil {
		return Entry{Title: title, LedgerID: id, UpdatedRange: updated}, err
	}
	s.logger.DebugContext(ctx, "Ledger row appended",
		log.FieldLedgerTitle, title,
		log.FieldLedgerID, string(id),
		log.FieldUpdatedRange, updated)
	return Entry{Title: title, LedgerID: id, UpdatedRange: updated}, nil
}
