package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pettycash/internal/cache"
	"pettycash/internal/core"
	"pettycash/internal/ledger"
	"pettycash/internal/ledger/memory"
)

func submission(month, pid string) core.Submission {
	return core.Submission{
		Submitter: core.Submitter{Name: "Juan", IDNumber: "E-1", Position: "Clerk", Division: "Ops", TeamHead: "Ana"},
		Month:     month,
		PID:       pid,
	}
}

func extraction(amount string) core.ExtractionResult {
	return core.ExtractionResult{ReferenceNumber: "OR-1", Date: "2024-03-01", Time: "10:15", AmountPaid: amount}
}

func total(t *testing.T, store *memory.Store, id ledger.ID) decimal.Decimal {
	t.Helper()
	v, err := store.Value(id, "Sheet1!E9")
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		t.Fatalf("expected evaluated total, got %T %v", v, v)
	}
	return d
}

func TestRecordProvisionsOnceAndAppends(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := ledger.NewService(store, ledger.DefaultOptions(), nil)

	first, err := svc.Record(ctx, submission("2024-03", "P1"), extraction("250.00"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Title != "Petty Cash_2024-03" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if first.UpdatedRange != "Sheet1!A10:E10" {
		t.Fatalf("expected first row at 10, got %s", first.UpdatedRange)
	}

	second, err := svc.Record(ctx, submission("2024-03", "P2"), extraction("1,250.50"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if second.LedgerID != first.LedgerID {
		t.Fatalf("expected same ledger, got %s and %s", first.LedgerID, second.LedgerID)
	}
	if second.UpdatedRange != "Sheet1!A11:E11" {
		t.Fatalf("expected second row at 11, got %s", second.UpdatedRange)
	}
	if store.Calls(memory.OpCreate) != 1 {
		t.Fatalf("expected one create, got %d", store.Calls(memory.OpCreate))
	}

	if got := total(t, store, first.LedgerID); !got.Equal(decimal.RequireFromString("1500.50")) {
		t.Fatalf("expected total 1500.50, got %s", got)
	}
	f, _ := store.Formula(first.LedgerID, "Sheet1!E9")
	if f != "=SUM(E10:E)" {
		t.Fatalf("unexpected formula %q", f)
	}

	header, _ := store.Row(first.LedgerID, "Sheet1", 8)
	if header[0] != "PID" {
		t.Fatalf("header overwritten: %v", header)
	}
	submitter, _ := store.Row(first.LedgerID, "Sheet1", 2)
	if submitter[0] != "Juan" {
		t.Fatalf("submitter row missing: %v", submitter)
	}
}

func TestSentinelAmountDoesNotChangeTotal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := ledger.NewService(store, ledger.DefaultOptions(), nil)

	e, _ := svc.Record(ctx, submission("2024-04", "P1"), extraction("99.50"))
	if _, err := svc.Record(ctx, submission("2024-04", "P2"), extraction(core.UnknownAmount)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := total(t, store, e.LedgerID); !got.Equal(decimal.RequireFromString("99.5")) {
		t.Fatalf("expected 99.5, got %s", got)
	}
}

func TestPeriodsGetSeparateLedgers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := ledger.NewService(store, ledger.DefaultOptions(), nil)

	a, _ := svc.Record(ctx, submission("2024-03", "P1"), extraction("1"))
	b, _ := svc.Record(ctx, submission("2024-04", "P1"), extraction("2"))
	if a.LedgerID == b.LedgerID {
		t.Fatal("expected a ledger per period")
	}
	if b.UpdatedRange != "Sheet1!A10:E10" {
		t.Fatalf("expected first row of new ledger, got %s", b.UpdatedRange)
	}
}

func TestConcurrentRecordsShareOneLedger(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := ledger.NewService(store, ledger.DefaultOptions(), nil)

	const n = 20
	var wg sync.WaitGroup
	entries := make([]ledger.Entry, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i], errs[i] = svc.Record(ctx, submission("2024-05", fmt.Sprintf("P%d", i)), extraction("10.00"))
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("record %d: %v", i, errs[i])
		}
		if entries[i].LedgerID != entries[0].LedgerID {
			t.Fatalf("record %d landed in a different ledger", i)
		}
		if seen[entries[i].UpdatedRange] {
			t.Fatalf("range %s written twice", entries[i].UpdatedRange)
		}
		seen[entries[i].UpdatedRange] = true
	}
	if store.Titles("Petty Cash_2024-05") != 1 {
		t.Fatalf("expected one ledger, got %d", store.Titles("Petty Cash_2024-05"))
	}
	if got := total(t, store, entries[0].LedgerID); !got.Equal(decimal.NewFromInt(10 * n)) {
		t.Fatalf("expected total %d, got %s", 10*n, got)
	}
}

func TestServicesInSeparateProcessesConverge(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	// Another process won the race and created the ledger first.
	seed := ledger.Sheet{Name: "Sheet1", Rows: ledger.Template(submission("2024-06", "P1").Submitter)}
	winner, _ := store.Create(ctx, "Petty Cash_2024-06", seed)

	svc := ledger.NewService(store, ledger.DefaultOptions(), nil)
	id, err := svc.Provision(ctx, "Petty Cash_2024-06", submission("2024-06", "P1").Submitter)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if id != winner {
		t.Fatalf("expected to adopt oldest ledger %s, got %s", winner, id)
	}
}

func TestLookupErrorDoesNotProvision(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	boom := errors.New("transport down")
	store.Fail(memory.OpResolve, boom)

	svc := ledger.NewService(store, ledger.DefaultOptions(), nil)
	_, err := svc.Record(ctx, submission("2024-07", "P1"), extraction("1"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if errors.Is(err, ledger.ErrLedgerNotFound) {
		t.Fatal("transport error must not look like absence")
	}
	if store.Calls(memory.OpCreate) != 0 {
		t.Fatal("expected no ledger to be created")
	}
}

func TestLookupErrorProvisionsWithLegacyFlag(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Fail(memory.OpResolve, errors.New("transport down"))

	opts := ledger.DefaultOptions()
	opts.ProvisionOnLookupError = true
	svc := ledger.NewService(store, opts, nil)

	e, err := svc.Record(ctx, submission("2024-07", "P1"), extraction("1"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if store.Calls(memory.OpCreate) != 1 {
		t.Fatalf("expected one create, got %d", store.Calls(memory.OpCreate))
	}
	if e.UpdatedRange != "Sheet1!A10:E10" {
		t.Fatalf("unexpected range %s", e.UpdatedRange)
	}
}

func TestAppendFailureIsReported(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := ledger.NewService(store, ledger.DefaultOptions(), nil)
	if _, err := svc.Record(ctx, submission("2024-08", "P1"), extraction("1")); err != nil {
		t.Fatalf("record: %v", err)
	}
	store.Fail(memory.OpAppend, errors.New("quota"))
	e, err := svc.Record(ctx, submission("2024-08", "P2"), extraction("1"))
	if err == nil {
		t.Fatal("expected append error")
	}
	if e.LedgerID == "" || e.UpdatedRange != "" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestCustomSheetAndPrefix(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := ledger.NewService(store, ledger.Options{TitlePrefix: "PC-", SheetName: "Ledger 1"}, nil)
	e, err := svc.Record(ctx, submission("2024-09", "P1"), extraction("5"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if e.Title != "PC-2024-09" {
		t.Fatalf("unexpected title %q", e.Title)
	}
	if e.UpdatedRange != "'Ledger 1'!A10:E10" {
		t.Fatalf("unexpected range %s", e.UpdatedRange)
	}
	v, _ := store.Value(e.LedgerID, "'Ledger 1'!E9")
	if d, ok := v.(decimal.Decimal); !ok || !d.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected total 5, got %v", v)
	}
}

func TestIDCacheSkipsLookupUntilWriteFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	opts := ledger.DefaultOptions()
	opts.IDs = cache.NewLRUCache[ledger.ID](8, time.Hour)
	svc := ledger.NewService(store, opts, nil)

	first, err := svc.Record(ctx, submission("2024-09", "P1"), extraction("1"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	resolves := store.Calls(memory.OpResolve)

	second, err := svc.Record(ctx, submission("2024-09", "P2"), extraction("2"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if second.LedgerID != first.LedgerID {
		t.Fatalf("cached id %s differs from %s", second.LedgerID, first.LedgerID)
	}
	if got := store.Calls(memory.OpResolve); got != resolves {
		t.Fatalf("cached title resolved again: %d calls, want %d", got, resolves)
	}

	store.Fail(memory.OpAppend, errors.New("quota"))
	if _, err := svc.Record(ctx, submission("2024-09", "P3"), extraction("3")); err == nil {
		t.Fatal("expected append error")
	}
	store.Fail(memory.OpAppend, nil)

	if _, err := svc.Record(ctx, submission("2024-09", "P4"), extraction("4")); err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := store.Calls(memory.OpResolve); got != resolves+1 {
		t.Fatalf("expected one lookup after the failed write, got %d calls (was %d)", got, resolves)
	}
	if n := store.Titles("Petty Cash_2024-09"); n != 1 {
		t.Fatalf("expected one ledger, got %d", n)
	}
}

func TestLedgerIsCreatedWithTemplateAndTotal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := ledger.NewService(store, ledger.DefaultOptions(), nil)

	// Cell writes fail throughout provisioning; the ledger must still come
	// out complete since creation carries the template.
	store.Fail(memory.OpWrite, errors.New("rate limited"))
	id, err := svc.Ensure(ctx, "Petty Cash_2024-10", submission("2024-10", "P1").Submitter)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if n := store.Calls(memory.OpWrite); n != 0 {
		t.Fatalf("expected no separate template write, got %d", n)
	}
	if f, _ := store.Formula(id, "Sheet1!E9"); f != ledger.TotalFormula {
		t.Fatalf("expected total formula on creation, got %q", f)
	}

	// The row lands even though the total refresh after it fails.
	first, err := svc.Record(ctx, submission("2024-10", "P1"), extraction("40.00"))
	if err == nil {
		t.Fatal("expected total refresh error")
	}
	if first.UpdatedRange != "Sheet1!A10:E10" {
		t.Fatalf("expected first row at 10, got %q", first.UpdatedRange)
	}
	store.Fail(memory.OpWrite, nil)

	second, err := svc.Record(ctx, submission("2024-10", "P2"), extraction("2.50"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if second.UpdatedRange != "Sheet1!A11:E11" {
		t.Fatalf("expected second row at 11, got %s", second.UpdatedRange)
	}
	header, _ := store.Row(id, "Sheet1", ledger.HeaderRow)
	if header[0] != "PID" {
		t.Fatalf("header overwritten: %v", header)
	}
	if got := total(t, store, id); !got.Equal(decimal.RequireFromString("42.50")) {
		t.Fatalf("expected total 42.50, got %s", got)
	}
}

func TestCreateFailureLeavesNoLedger(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := ledger.NewService(store, ledger.DefaultOptions(), nil)

	store.Fail(memory.OpCreate, errors.New("quota"))
	if _, err := svc.Record(ctx, submission("2024-11", "P1"), extraction("1")); err == nil {
		t.Fatal("expected create error")
	}
	if n := store.Titles("Petty Cash_2024-11"); n != 0 {
		t.Fatalf("expected no ledger after failed create, got %d", n)
	}
	store.Fail(memory.OpCreate, nil)

	e, err := svc.Record(ctx, submission("2024-11", "P2"), extraction("3"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if e.UpdatedRange != "Sheet1!A10:E10" {
		t.Fatalf("expected first data row, got %s", e.UpdatedRange)
	}
}

// gatedBackend holds the first Resolve until release is closed and honours
// cancellation of the context it is called with.
type gatedBackend struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) Resolve(ctx context.Context, title string) (ledger.ID, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.Store.Resolve(ctx, title)
}

func TestCancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	store := memory.New()
	backend := &gatedBackend{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	svc := ledger.NewService(backend, ledger.DefaultOptions(), nil)
	sub := submission("2024-12", "P1")

	cancelled, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Ensure(cancelled, "Petty Cash_2024-12", sub.Submitter)
		first <- err
	}()
	<-backend.entered

	type result struct {
		entry ledger.Entry
		err   error
	}
	second := make(chan result, 1)
	go func() {
		e, err := svc.Record(context.Background(), sub, extraction("12.00"))
		second <- result{e, err}
	}()

	// Give the live caller time to join the pending lookup.
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected the cancelled caller to see context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		close(backend.release)
		t.Fatal("cancelled caller kept waiting on the shared lookup")
	}
	close(backend.release)

	got := <-second
	if got.err != nil {
		t.Fatalf("live caller failed with another caller's cancellation: %v", got.err)
	}
	if got.entry.UpdatedRange != "Sheet1!A10:E10" {
		t.Fatalf("unexpected range %s", got.entry.UpdatedRange)
	}
	if n := store.Titles("Petty Cash_2024-12"); n != 1 {
		t.Fatalf("expected one ledger, got %d", n)
	}
}
