package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pettycash/internal/amqp"
	"pettycash/internal/archive"
	"pettycash/internal/core"
	"pettycash/internal/ledger"
	"pettycash/internal/log"
	"pettycash/internal/ocr"
	"pettycash/internal/storage"
)

var (
	// ErrRecognition wraps any failure of the OCR collaborator.
	ErrRecognition = errors.New("text recognition failed")
	// ErrInvalidImage is returned for payloads that are not images.
	ErrInvalidImage = ocr.ErrInvalidImage
)

type (
	// Extractor turns recognized fragments into receipt fields.
	Extractor interface {
		ExtractFragments(fragments []string) core.ExtractionResult
	}

	// Recorder appends an extraction to its period ledger.
	Recorder interface {
		Record(ctx context.Context, sub core.Submission, x core.ExtractionResult) (ledger.Entry, error)
	}

	// Publisher announces recorded submissions.
	Publisher interface {
		PublishReceiptSubmitted(ctx context.Context, ev *amqp.ReceiptSubmittedEvent) error
	}
)

// SubmitResult describes a fully recorded submission.
type SubmitResult struct {
	DocumentID   string
	LedgerTitle  string
	UpdatedRange string
	Extraction   core.ExtractionResult
}

// ReceiptService orchestrates recognition, extraction, the document store and
// the ledger for one receipt at a time.
type ReceiptService struct {
	recognizer ocr.Recognizer
	extractor  Extractor
	forms      storage.FormWriter
	ledger     Recorder
	archiver   archive.Archiver
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes a ReceiptService.
type Option func(*ReceiptService)

// WithArchiver stores every submitted image before the record is written.
func WithArchiver(a archive.Archiver) Option {
	return func(s *ReceiptService) { s.archiver = a }
}

// WithPublisher publishes a receipt.submitted event after each submission.
func WithPublisher(p Publisher) Option {
	return func(s *ReceiptService) { s.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *ReceiptService) { s.logger = l }
}

func NewReceiptService(recognizer ocr.Recognizer, extractor Extractor, forms storage.FormWriter, recorder Recorder, opts ...Option) *ReceiptService {
	s := &ReceiptService{
		recognizer: recognizer,
		extractor:  extractor,
		forms:      forms,
		ledger:     recorder,
		archiver:   archive.Discard{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan decodes an uploaded image payload and extracts its fields without
// persisting anything.
func (s *ReceiptService) Scan(ctx context.Context, payload string) (core.ExtractionResult, error) {
	image, err := ocr.DecodeImage(payload)
	if err != nil {
		return core.ExtractionResult{}, err
	}
	return s.extract(ctx, image)
}

// Submit records one reimbursement: the image is recognized and extracted,
// the form is inserted into the document store and the extraction is
// appended to the period ledger. Nothing is persisted if validation or
// recognition fails. A ledger failure after the insert leaves the document in
// place.
func (s *ReceiptService) Submit(ctx context.Context, sub core.Submission, image []byte) (SubmitResult, error) {
	if err := sub.Validate(); err != nil {
		return SubmitResult{}, err
	}
	if err := ocr.CheckImage(image); err != nil {
		return SubmitResult{}, err
	}

	x, err := s.extract(ctx, image)
	if err != nil {
		return SubmitResult{}, err
	}
	result := SubmitResult{Extraction: x}

	rec := sub.Record(x, s.now().UTC())
	if uri, err := s.archiver.Archive(ctx, image, sub); err != nil {
		s.logger.WarnContext(ctx, "Receipt image not archived",
			log.FieldComponent, log.ComponentArchive,
			log.FieldPeriod, sub.Month,
			log.FieldPID, sub.PID,
			log.FieldError, err)
	} else {
		rec.ImageURI = uri
	}

	docID, err := s.forms.Insert(ctx, rec)
	if err != nil {
		return result, fmt.Errorf("insert form: %w", err)
	}
	rec.ID = docID
	result.DocumentID = docID

	entry, err := s.ledger.Record(ctx, sub, x)
	result.LedgerTitle = entry.Title
	result.UpdatedRange = entry.UpdatedRange
	if err != nil {
		s.logger.ErrorContext(ctx, "Ledger update failed after form insert",
			log.FieldDocumentID, docID,
			log.FieldLedgerTitle, entry.Title,
			log.FieldError, err)
		return result, fmt.Errorf("record ledger row: %w", err)
	}

	s.logger.InfoContext(ctx, "Submission recorded",
		log.FieldPeriod, sub.Month,
		log.FieldPID, sub.PID,
		log.FieldDocumentID, docID,
		log.FieldLedgerTitle, entry.Title,
		log.FieldUpdatedRange, entry.UpdatedRange)

	s.publish(ctx, rec, entry)
	return result, nil
}

func (s *ReceiptService) extract(ctx context.Context, image []byte) (core.ExtractionResult, error) {
	fragments, err := s.recognizer.Recognize(ctx, image)
	switch {
	case errors.Is(err, ocr.ErrInvalidImage):
		return core.ExtractionResult{}, err
	case errors.Is(err, ocr.ErrNoText):
		s.logger.WarnContext(ctx, "No text recognized, using placeholders",
			log.FieldComponent, log.ComponentOCR,
			log.FieldImageBytes, len(image))
		fragments = nil
	case err != nil:
		return core.ExtractionResult{}, fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	x := s.extractor.ExtractFragments(fragments)
	s.logger.DebugContext(ctx, "Receipt fields extracted",
		log.FieldFragments, len(fragments),
		log.FieldORNumber, x.ReferenceNumber,
		log.FieldAmountPaid, x.AmountPaid)
	return x, nil
}

func (s *ReceiptService) publish(ctx context.Context, rec core.FormRecord, entry ledger.Entry) {
	if s.publisher == nil {
		return
	}
	ev := amqp.NewReceiptSubmittedEvent(rec, entry.Title, entry.UpdatedRange)
	if err := s.publisher.PublishReceiptSubmitted(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish receipt submitted event",
			log.FieldComponent, log.ComponentAMQP,
			log.FieldDocumentID, rec.ID,
			log.FieldError, err)
	}
}
