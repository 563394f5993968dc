package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"pettycash/internal/amqp"
	"pettycash/internal/core"
	"pettycash/internal/extract"
	"pettycash/internal/ledger"
	ledgermem "pettycash/internal/ledger/memory"
	"pettycash/internal/ocr"
	formmem "pettycash/internal/storage/memory"
)

var pngImage = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

const receiptText = "Official Receipt: OR-5521 Total: 250.00 Date: 2024-03-01 10:15"

type failingRecognizer struct{ err error }

func (f failingRecognizer) Recognize(context.Context, []byte) ([]string, error) {
	return nil, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.ReceiptSubmittedEvent
	err    error
}

func (p *recordingPublisher) PublishReceiptSubmitted(_ context.Context, ev *amqp.ReceiptSubmittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type fixedArchiver struct {
	uri string
	err error
}

func (a fixedArchiver) Archive(context.Context, []byte, core.Submission) (string, error) {
	return a.uri, a.err
}

type fixture struct {
	svc    *ReceiptService
	forms  *formmem.Store
	books  *ledgermem.Store
	ledger *ledger.Service
}

func newFixture(t *testing.T, recognizer ocr.Recognizer, opts ...Option) fixture {
	t.Helper()
	engine, err := extract.NewBuiltinEngine(extract.DefaultRuleSet)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	books := ledgermem.New()
	ledgerSvc := ledger.NewService(books, ledger.DefaultOptions(), logger)
	forms := formmem.New()
	opts = append([]Option{WithLogger(logger)}, opts...)
	return fixture{
		svc:    NewReceiptService(recognizer, engine, forms, ledgerSvc, opts...),
		forms:  forms,
		books:  books,
		ledger: ledgerSvc,
	}
}

func submission(month, pid string) core.Submission {
	return core.Submission{
		Submitter: core.Submitter{Name: "Juan", IDNumber: "E-1", Position: "Clerk", Division: "Ops", TeamHead: "Ana"},
		Month:     month,
		PID:       pid,
	}
}

func TestScan(t *testing.T) {
	f := newFixture(t, ocr.Static{Text: receiptText})
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngImage)

	got, err := f.svc.Scan(context.Background(), payload)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	want := core.ExtractionResult{ReferenceNumber: "OR-5521", Date: "2024-03-01", Time: "10:15", AmountPaid: "250.00"}
	if got != want {
		t.Errorf("Scan() = %+v, want %+v", got, want)
	}
	if len(f.forms.Records()) != 0 || f.books.Calls(ledgermem.OpAppend) != 0 {
		t.Error("Scan must not persist anything")
	}
}

func TestScanErrors(t *testing.T) {
	tests := []struct {
		name       string
		recognizer ocr.Recognizer
		payload    string
		wantErr    error
	}{
		{"not base64", ocr.Static{Text: receiptText}, "%%%", ErrInvalidImage},
		{"text payload", ocr.Static{Text: receiptText}, base64.StdEncoding.EncodeToString([]byte("hello world")), ErrInvalidImage},
		{"recognizer failure", failingRecognizer{err: errors.New("quota exceeded")}, base64.StdEncoding.EncodeToString(pngImage), ErrRecognition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.recognizer)
			_, err := f.svc.Scan(context.Background(), tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Scan() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmitRecordsFormAndLedgerRow(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, ocr.Static{Text: receiptText},
		WithPublisher(pub),
		WithArchiver(fixedArchiver{uri: "gs://receipts/x.png"}))

	res, err := f.svc.Submit(context.Background(), submission("2024-03", "P-7"), pngImage)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.LedgerTitle != "Petty Cash_2024-03" || res.UpdatedRange != "Sheet1!A10:E10" {
		t.Errorf("unexpected result %+v", res)
	}

	records := f.forms.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.ID != res.DocumentID {
		t.Errorf("record id %q, result id %q", rec.ID, res.DocumentID)
	}
	if rec.ReferenceNumber != "OR-5521" || rec.AmountPaid != "250.00" || rec.Month != "2024-03" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.ImageURI != "gs://receipts/x.png" {
		t.Errorf("ImageURI = %q", rec.ImageURI)
	}
	if rec.SubmittedAt.IsZero() {
		t.Error("SubmittedAt should be set")
	}

	id, err := f.ledger.Locate(context.Background(), res.LedgerTitle)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	row, err := f.books.Row(id, "Sheet1", 10)
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row[0] != "P-7" || row[1] != "OR-5521" || row[2] != "2024-03-01" || row[3] != "10:15" {
		t.Errorf("unexpected ledger row %v", row)
	}
	if row[4] != json.Number("250.00") {
		t.Errorf("amount cell = %v (%T), want 250.00 as captured", row[4], row[4])
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	if ev := pub.events[0]; ev.DocumentID != res.DocumentID || ev.UpdatedRange != res.UpdatedRange {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestSubmitWithoutLabelsUsesPlaceholders(t *testing.T) {
	f := newFixture(t, ocr.Static{Text: "THANK YOU COME AGAIN"})

	res, err := f.svc.Submit(context.Background(), submission("2024-03", "P-1"), pngImage)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	want := core.ExtractionResult{
		ReferenceNumber: core.UnknownReferenceNumber,
		Date:            core.UnknownDateTime,
		Time:            "",
		AmountPaid:      core.UnknownAmount,
	}
	if res.Extraction != want {
		t.Errorf("Extraction = %+v, want %+v", res.Extraction, want)
	}
}

func TestSubmitNoTextIsNotAnError(t *testing.T) {
	f := newFixture(t, failingRecognizer{err: ocr.ErrNoText})

	res, err := f.svc.Submit(context.Background(), submission("2024-03", "P-1"), pngImage)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Extraction.ReferenceNumber != core.UnknownReferenceNumber {
		t.Errorf("expected placeholder, got %+v", res.Extraction)
	}
}

func TestSubmitConcurrentSamePeriod(t *testing.T) {
	f := newFixture(t, ocr.Static{Text: receiptText})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	ranges := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Submit(ctx, submission("2024-03", fmt.Sprintf("P-%d", i)), pngImage)
			ranges[i], errs[i] = res.UpdatedRange, err
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("submission %d: %v", i, errs[i])
		}
		if seen[ranges[i]] {
			t.Errorf("range %s written twice", ranges[i])
		}
		seen[ranges[i]] = true
	}
	if got := f.books.Titles("Petty Cash_2024-03"); got != 1 {
		t.Errorf("expected one ledger, got %d", got)
	}
	if got := f.books.Calls(ledgermem.OpCreate); got != 1 {
		t.Errorf("expected one create, got %d", got)
	}
	if got := len(f.forms.Records()); got != n {
		t.Errorf("expected %d records, got %d", n, got)
	}
}

func TestSubmitFailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name       string
		recognizer ocr.Recognizer
		sub        core.Submission
		image      []byte
		wantErr    error
	}{
		{"undecodable image", ocr.Static{Text: receiptText}, submission("2024-03", "P-1"), []byte("plain text, not an image"), ErrInvalidImage},
		{"empty image", ocr.Static{Text: receiptText}, submission("2024-03", "P-1"), nil, ErrInvalidImage},
		{"recognition error", failingRecognizer{err: errors.New("deadline exceeded")}, submission("2024-03", "P-1"), pngImage, ErrRecognition},
		{"recognizer rejects image", failingRecognizer{err: ocr.ErrInvalidImage}, submission("2024-03", "P-1"), pngImage, ErrInvalidImage},
		{"missing pid", ocr.Static{Text: receiptText}, submission("2024-03", ""), pngImage, core.ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.recognizer)
			_, err := f.svc.Submit(context.Background(), tt.sub, tt.image)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.wantErr)
			}
			if n := len(f.forms.Records()); n != 0 {
				t.Errorf("expected no records, got %d", n)
			}
			for _, op := range []string{ledgermem.OpResolve, ledgermem.OpCreate, ledgermem.OpWrite, ledgermem.OpAppend} {
				if n := f.books.Calls(op); n != 0 {
					t.Errorf("expected no ledger %s calls, got %d", op, n)
				}
			}
		})
	}
}

func TestSubmitLedgerFailureKeepsDocument(t *testing.T) {
	f := newFixture(t, ocr.Static{Text: receiptText})
	f.books.Fail(ledgermem.OpAppend, errors.New("backend unavailable"))

	res, err := f.svc.Submit(context.Background(), submission("2024-03", "P-1"), pngImage)
	if err == nil {
		t.Fatal("expected ledger error")
	}
	if res.DocumentID == "" {
		t.Error("document id should be reported")
	}
	if n := len(f.forms.Records()); n != 1 {
		t.Errorf("expected the inserted record to remain, got %d", n)
	}
}

func TestSubmitInsertFailureSkipsLedger(t *testing.T) {
	f := newFixture(t, ocr.Static{Text: receiptText})
	f.forms.FailWith(errors.New("disk full"))

	if _, err := f.svc.Submit(context.Background(), submission("2024-03", "P-1"), pngImage); err == nil {
		t.Fatal("expected insert error")
	}
	if n := f.books.Calls(ledgermem.OpAppend); n != 0 {
		t.Errorf("expected no append, got %d", n)
	}
}

func TestSubmitSideEffectsAreBestEffort(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	f := newFixture(t, ocr.Static{Text: receiptText},
		WithPublisher(pub),
		WithArchiver(fixedArchiver{err: errors.New("bucket missing")}))

	res, err := f.svc.Submit(context.Background(), submission("2024-03", "P-1"), pngImage)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.UpdatedRange == "" {
		t.Error("expected the row to be recorded")
	}
	if uri := f.forms.Records()[0].ImageURI; uri != "" {
		t.Errorf("ImageURI = %q, want empty", uri)
	}
	if len(pub.events) != 1 {
		t.Errorf("expected one publish attempt, got %d", len(pub.events))
	}
}
