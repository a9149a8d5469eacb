package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

func newTestLedger(store *mockStore) *LedgerService {
	return NewLedgerService(store, store, store, newMockLocker())
}

func TestApply_Checkout(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 10, 2)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	svc := NewLedgerService(store, store, store, newMockLocker(), WithClock(func() time.Time { return fixed }))

	txn, err := svc.Apply(context.Background(), ApplyRequest{
		ItemID: 1, Type: domain.TransactionTypeCheckout, Quantity: 3, Notes: "site A",
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if txn.ID == 0 || txn.Ref == "" {
		t.Errorf("expected server-assigned id and ref, got %d/%q", txn.ID, txn.Ref)
	}
	if txn.Delta != -3 || txn.QuantityAfter != 7 {
		t.Errorf("expected delta -3 and quantity after 7, got %d/%d", txn.Delta, txn.QuantityAfter)
	}
	if !txn.OccurredAt.Equal(fixed) || txn.OccurredAt.Location() != time.UTC {
		t.Errorf("expected UTC timestamp %v, got %v", fixed.UTC(), txn.OccurredAt)
	}
	if store.item(1).Quantity != 7 {
		t.Errorf("expected quantity 7, got %d", store.item(1).Quantity)
	}
}

func TestApply_SignPerType(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 10, 0)
	svc := newTestLedger(store)
	ctx := context.Background()

	steps := []struct {
		typ  domain.TransactionType
		qty  int
		want int
	}{
		{domain.TransactionTypeCheckout, 4, 6},
		{domain.TransactionTypeCheckin, 2, 8},
		{domain.TransactionTypeRestock, 5, 13},
		{domain.TransactionTypeDiscard, 3, 10},
	}
	for _, s := range steps {
		if _, err := svc.Apply(ctx, ApplyRequest{ItemID: 1, Type: s.typ, Quantity: s.qty}); err != nil {
			t.Fatalf("%s failed: %v", s.typ, err)
		}
		if got := store.item(1).Quantity; got != s.want {
			t.Errorf("after %s: expected %d, got %d", s.typ, s.want, got)
		}
	}
}

func TestApply_CheckoutToZero(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 5, 0)
	svc := newTestLedger(store)

	if _, err := svc.Checkout(context.Background(), 1, 5, 0, ""); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if store.item(1).Quantity != 0 {
		t.Errorf("expected quantity 0, got %d", store.item(1).Quantity)
	}
}

func TestApply_InsufficientStock(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 5, 0)
	svc := newTestLedger(store)

	_, err := svc.Apply(context.Background(), ApplyRequest{ItemID: 1, Type: domain.TransactionTypeDiscard, Quantity: 6})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected *InsufficientStockError, got %T", err)
	}
	if stockErr.Available != 5 || stockErr.Requested != 6 {
		t.Errorf("expected available 5 requested 6, got %d/%d", stockErr.Available, stockErr.Requested)
	}
	if store.item(1).Quantity != 5 {
		t.Errorf("expected quantity unchanged at 5, got %d", store.item(1).Quantity)
	}
	if store.count() != 0 {
		t.Errorf("expected no transactions, got %d", store.count())
	}
}

func TestApply_ValidationErrors(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 5, 0)
	svc := newTestLedger(store)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ApplyRequest
		want error
	}{
		{"zero quantity", ApplyRequest{ItemID: 1, Type: domain.TransactionTypeDiscard, Quantity: 0}, domain.ErrInvalidQuantity},
		{"negative quantity", ApplyRequest{ItemID: 1, Type: domain.TransactionTypeCheckin, Quantity: -2}, domain.ErrInvalidQuantity},
		{"unknown type", ApplyRequest{ItemID: 1, Type: domain.TransactionTypeUnknown, Quantity: 1}, domain.ErrUnknownTransactionType},
		{"missing item", ApplyRequest{ItemID: 99, Type: domain.TransactionTypeCheckin, Quantity: 1}, domain.ErrItemNotFound},
		{"missing actor", ApplyRequest{ItemID: 1, Type: domain.TransactionTypeCheckin, Quantity: 1, ActorID: 7}, domain.ErrPersonNotFound},
	}

	for _, tt := range tests {
		_, err := svc.Apply(ctx, tt.req)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got: %v", tt.name, tt.want, err)
		}
	}

	if store.count() != 0 {
		t.Errorf("expected no transactions, got %d", store.count())
	}
	if store.commits != 0 {
		t.Errorf("expected no commit attempts, got %d", store.commits)
	}
}

func TestApply_InvalidQuantityCarriesRequested(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 5, 0)
	svc := newTestLedger(store)

	_, err := svc.Apply(context.Background(), ApplyRequest{ItemID: 1, Type: domain.TransactionTypeCheckout, Quantity: -4})
	var qtyErr *domain.InvalidQuantityError
	if !errors.As(err, &qtyErr) || qtyErr.Requested != -4 {
		t.Errorf("expected InvalidQuantityError with requested -4, got: %v", err)
	}
}

func TestApply_WithActor(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 5, 0)
	person, _ := store.CreatePerson(context.Background(), domain.Person{Name: "Grace"})
	svc := newTestLedger(store)

	txn, err := svc.Checkin(context.Background(), 1, 2, person.ID, "returned")
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if txn.ActorID != person.ID || txn.Notes != "returned" {
		t.Errorf("expected actor %d with notes, got %d/%q", person.ID, txn.ActorID, txn.Notes)
	}
}

func TestApply_NotIdempotent(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 10, 0)
	svc := newTestLedger(store)
	ctx := context.Background()
	req := ApplyRequest{ItemID: 1, Type: domain.TransactionTypeCheckout, Quantity: 2, Notes: "same"}

	first, err := svc.Apply(ctx, req)
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	second, err := svc.Apply(ctx, req)
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	if first.ID == second.ID || first.Ref == second.Ref {
		t.Error("identical requests must produce distinct transactions")
	}
	if store.count() != 2 {
		t.Errorf("expected 2 transactions, got %d", store.count())
	}
	if store.item(1).Quantity != 6 {
		t.Errorf("expected quantity 6, got %d", store.item(1).Quantity)
	}
}

func TestApply_StorageConflictNotRetried(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 10, 0)
	// another process moves the version between our read and our write
	store.beforeCommit = func() {
		store.mu.Lock()
		item := store.items[1]
		item.Version++
		store.items[1] = item
		store.mu.Unlock()
	}
	svc := newTestLedger(store)

	_, err := svc.Checkout(context.Background(), 1, 1, 0, "")
	if !errors.Is(err, domain.ErrStorageConflict) {
		t.Fatalf("expected ErrStorageConflict, got: %v", err)
	}
	if store.commits != 1 {
		t.Errorf("expected exactly one commit attempt, got %d", store.commits)
	}
	if store.item(1).Quantity != 10 {
		t.Errorf("expected quantity 10, got %d", store.item(1).Quantity)
	}
}

func TestApply_CancelledBeforeCommit(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 10, 0)
	svc := newTestLedger(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Checkout(ctx, 1, 1, 0, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if store.item(1).Quantity != 10 || store.count() != 0 {
		t.Errorf("expected no visible change, got quantity %d and %d transactions", store.item(1).Quantity, store.count())
	}
}

func TestApply_CancelledAfterCommit(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 10, 0)
	ctx, cancel := context.WithCancel(context.Background())

	svc := NewLedgerService(store, store, &cancelAfterCommit{mockStore: store, cancel: cancel}, newMockLocker())

	txn, err := svc.Checkout(ctx, 1, 1, 0, "")
	if err != nil {
		t.Fatalf("committed apply must be reported as success, got: %v", err)
	}
	if txn.ID == 0 {
		t.Error("expected committed transaction")
	}
	if ctx.Err() == nil {
		t.Error("expected context to be cancelled by the wrapper")
	}
}

type cancelAfterCommit struct {
	*mockStore
	cancel context.CancelFunc
}

func (c *cancelAfterCommit) Commit(ctx context.Context, commit domain.Commit) (domain.Transaction, error) {
	txn, err := c.mockStore.Commit(ctx, commit)
	c.cancel()
	return txn, err
}

func TestApply_LockError(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 10, 0)
	locker := newMockLocker()
	locker.err = context.DeadlineExceeded
	svc := NewLedgerService(store, store, store, locker)

	_, err := svc.Checkout(context.Background(), 1, 1, 0, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got: %v", err)
	}
}

func TestApply_Concurrent(t *testing.T) {
	const n = 50
	store := newMockStore()
	store.addItem(1, n, 0)
	svc := newTestLedger(store)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Checkout(context.Background(), 1, 1, 0, ""); err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			successCount.Add(1)
		}()
	}
	wg.Wait()

	if successCount.Load() != n {
		t.Errorf("expected %d successes, got %d", n, successCount.Load())
	}
	if store.item(1).Quantity != 0 {
		t.Errorf("expected quantity 0, got %d", store.item(1).Quantity)
	}
	if store.count() != n {
		t.Errorf("expected %d transactions, got %d", n, store.count())
	}
}

func TestApply_ConcurrentOversell(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 20, 0)
	svc := newTestLedger(store)

	var successCount, shortCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), 1, 1, 0, "")
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 20 || shortCount.Load() != 30 {
		t.Errorf("expected 20/30, got %d/%d", successCount.Load(), shortCount.Load())
	}
	if store.item(1).Quantity != 0 {
		t.Errorf("expected quantity 0, got %d", store.item(1).Quantity)
	}
}

func TestApply_SumInvariant(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 7, 0)
	svc := newTestLedger(store)
	ctx := context.Background()

	reqs := []ApplyRequest{
		{ItemID: 1, Type: domain.TransactionTypeRestock, Quantity: 5},
		{ItemID: 1, Type: domain.TransactionTypeCheckout, Quantity: 9},
		{ItemID: 1, Type: domain.TransactionTypeCheckout, Quantity: 9}, // rejected
		{ItemID: 1, Type: domain.TransactionTypeCheckin, Quantity: 2},
		{ItemID: 1, Type: domain.TransactionTypeDiscard, Quantity: 1},
	}
	for _, r := range reqs {
		svc.Apply(ctx, r)
	}

	report, err := svc.Audit(ctx, 1)
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !report.Consistent {
		t.Errorf("expected consistent ledger: %+v", report)
	}
	if report.Quantity != 4 || report.NetDelta != -3 || report.TransactionCount != 4 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestAudit_DetectsDrift(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 7, 0)
	svc := newTestLedger(store)

	// quantity changed outside the ledger
	store.mu.Lock()
	item := store.items[1]
	item.Quantity = 3
	store.items[1] = item
	store.mu.Unlock()

	report, err := svc.Audit(context.Background(), 1)
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if report.Consistent {
		t.Errorf("expected drift to be detected: %+v", report)
	}
}

func TestReconcile(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 10, 0)
	svc := newTestLedger(store)
	ctx := context.Background()

	txn, err := svc.Reconcile(ctx, 1, 7, 0, "")
	if err != nil {
		t.Fatalf("reconcile down failed: %v", err)
	}
	if txn.Type != domain.TransactionTypeDiscard || txn.Quantity != 3 || txn.Notes != reconcileNote {
		t.Errorf("unexpected transaction: %+v", txn)
	}

	txn, err = svc.Reconcile(ctx, 1, 12, 0, "annual count")
	if err != nil {
		t.Fatalf("reconcile up failed: %v", err)
	}
	if txn.Type != domain.TransactionTypeRestock || txn.Quantity != 5 || txn.Notes != "annual count" {
		t.Errorf("unexpected transaction: %+v", txn)
	}

	if _, err := svc.Reconcile(ctx, 1, 12, 0, ""); !errors.Is(err, domain.ErrNoChange) {
		t.Errorf("expected ErrNoChange, got: %v", err)
	}
	if _, err := svc.Reconcile(ctx, 1, -1, 0, ""); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got: %v", err)
	}
	if _, err := svc.Reconcile(ctx, 2, 1, 0, ""); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got: %v", err)
	}

	if store.item(1).Quantity != 12 {
		t.Errorf("expected quantity 12, got %d", store.item(1).Quantity)
	}
}

func TestListByItem(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 10, 0)
	store.addItem(2, 10, 0)
	svc := newTestLedger(store)
	ctx := context.Background()

	empty, err := svc.ListByItem(ctx, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", empty)
	}

	for i := 0; i < 3; i++ {
		svc.Checkout(ctx, 1, 1, 0, "")
	}
	svc.Checkout(ctx, 2, 1, 0, "")

	history, err := svc.ListByItem(ctx, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 || history[0].ID != 3 || history[1].ID != 2 {
		t.Errorf("unexpected history: %+v", history)
	}

	if _, err := svc.ListByItem(ctx, 99, 10); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got: %v", err)
	}

	recent, err := svc.ListRecent(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 4 || recent[0].ItemID != 2 {
		t.Errorf("unexpected recent: %+v", recent)
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := map[int]int{0: DefaultListLimit, -5: DefaultListLimit, 10: 10, 10000: MaxListLimit}
	for in, want := range tests {
		if got := normalizeLimit(in); got != want {
			t.Errorf("normalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestApply_QuantityAboveColumnLimit(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 5, 0)
	svc := newTestLedger(store)
	ctx := context.Background()

	_, err := svc.Checkin(ctx, 1, math.MaxInt, 0, "")
	var qtyErr *domain.InvalidQuantityError
	if !errors.As(err, &qtyErr) {
		t.Fatalf("expected InvalidQuantityError, got: %v", err)
	}
	if errors.Is(err, domain.ErrInsufficientStock) {
		t.Error("an oversized checkin must not be reported as a shortage")
	}
	if store.item(1).Quantity != 5 || store.count() != 0 {
		t.Errorf("expected no change, got quantity %d and %d transactions", store.item(1).Quantity, store.count())
	}
}

func TestApply_SumAboveColumnLimit(t *testing.T) {
	store := newMockStore()
	store.addItem(1, domain.MaxQuantity-3, 0)
	svc := newTestLedger(store)
	ctx := context.Background()

	if _, err := svc.Apply(ctx, ApplyRequest{ItemID: 1, Type: domain.TransactionTypeRestock, Quantity: 4}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got: %v", err)
	}
	if store.commits != 0 {
		t.Errorf("expected no commit attempt, got %d", store.commits)
	}

	txn, err := svc.Apply(ctx, ApplyRequest{ItemID: 1, Type: domain.TransactionTypeRestock, Quantity: 3})
	if err != nil {
		t.Fatalf("restock up to the limit failed: %v", err)
	}
	if txn.QuantityAfter != domain.MaxQuantity {
		t.Errorf("expected quantity after %d, got %d", domain.MaxQuantity, txn.QuantityAfter)
	}

	// removing stock from a full item is unaffected
	if _, err := svc.Checkout(ctx, 1, domain.MaxQuantity, 0, ""); err != nil {
		t.Errorf("checkout of the full quantity failed: %v", err)
	}
}

func TestReconcile_CountAboveColumnLimit(t *testing.T) {
	store := newMockStore()
	store.addItem(1, 5, 0)
	svc := newTestLedger(store)

	_, err := svc.Reconcile(context.Background(), 1, domain.MaxQuantity+1, 0, "")
	if !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got: %v", err)
	}
	if store.count() != 0 {
		t.Errorf("expected no transactions, got %d", store.count())
	}
}
