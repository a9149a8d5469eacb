package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/logger"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500

	reconcileNote = "stock count adjustment"
)

var tracer = otel.Tracer("stock-ledger/service")

type ApplyRequest struct {
	ItemID   int64
	Type     domain.TransactionType
	Quantity int
	ActorID  int64
	Notes    string
}

type AuditReport struct {
	ItemID           int64
	InitialQuantity  int
	Quantity         int
	NetDelta         int
	TransactionCount int
	Consistent       bool
}

type LedgerService struct {
	items   port.ItemRepository
	persons port.PersonRepository
	ledger  port.LedgerRepository
	locker  port.ItemLocker
	log     *logger.Logger
	now     func() time.Time
	newRef  func() string
}

type Option func(*LedgerService)

func WithLogger(l *logger.Logger) Option {
	return func(s *LedgerService) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func NewLedgerService(items port.ItemRepository, persons port.PersonRepository, ledger port.LedgerRepository, locker port.ItemLocker, opts ...Option) *LedgerService {
	s := &LedgerService{
		items:   items,
		persons: persons,
		ledger:  ledger,
		locker:  locker,
		log:     logger.Nop(),
		now:     time.Now,
		newRef:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply validates and records one transaction against one item. Applies on the same item are
// serialized through the item locker; the quantity swap and the ledger append commit together
// or not at all. A storage conflict is returned as-is and never retried here.
func (s *LedgerService) Apply(ctx context.Context, req ApplyRequest) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.Apply", trace.WithAttributes(
		attribute.Int64("item.id", req.ItemID),
		attribute.String("transaction.type", req.Type.String()),
		attribute.Int("transaction.quantity", req.Quantity),
	))
	defer span.End()

	txn, err := s.apply(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("transaction rejected",
			"item_id", req.ItemID, "type", req.Type.String(), "quantity", req.Quantity, "error", err)
		return domain.Transaction{}, err
	}

	span.SetAttributes(attribute.Int64("transaction.id", txn.ID))
	s.log.Info("transaction applied",
		"transaction_id", txn.ID, "item_id", txn.ItemID, "type", txn.Type.String(),
		"quantity", txn.Quantity, "quantity_after", txn.QuantityAfter)
	return txn, nil
}

func (s *LedgerService) Checkout(ctx context.Context, itemID int64, quantity int, actorID int64, notes string) (domain.Transaction, error) {
	return s.Apply(ctx, ApplyRequest{ItemID: itemID, Type: domain.TransactionTypeCheckout, Quantity: quantity, ActorID: actorID, Notes: notes})
}

func (s *LedgerService) Checkin(ctx context.Context, itemID int64, quantity int, actorID int64, notes string) (domain.Transaction, error) {
	return s.Apply(ctx, ApplyRequest{ItemID: itemID, Type: domain.TransactionTypeCheckin, Quantity: quantity, ActorID: actorID, Notes: notes})
}

func (s *LedgerService) apply(ctx context.Context, req ApplyRequest) (domain.Transaction, error) {
	if !req.Type.Valid() {
		return domain.Transaction{}, domain.ErrUnknownTransactionType
	}
	if req.Quantity <= 0 || req.Quantity > domain.MaxQuantity {
		return domain.Transaction{}, &domain.InvalidQuantityError{Requested: req.Quantity}
	}
	if err := s.checkActor(ctx, req.ActorID); err != nil {
		return domain.Transaction{}, err
	}

	unlock, err := s.locker.Lock(ctx, req.ItemID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("acquire item lock: %w", err)
	}
	defer unlock()

	item, err := s.items.GetItem(ctx, req.ItemID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return s.commit(ctx, item, req)
}

// commit must run while the item lock is held.
func (s *LedgerService) commit(ctx context.Context, item domain.Item, req ApplyRequest) (domain.Transaction, error) {
	delta := req.Type.Delta(req.Quantity)
	// req.Quantity is already bounded by MaxQuantity, so only the sum can overflow the column
	if delta > 0 && item.Quantity > domain.MaxQuantity-delta {
		return domain.Transaction{}, &domain.InvalidQuantityError{Requested: req.Quantity}
	}
	newQuantity := item.Quantity + delta
	if newQuantity < 0 {
		return domain.Transaction{}, &domain.InsufficientStockError{
			ItemID:    item.ID,
			Available: item.Quantity,
			Requested: req.Quantity,
		}
	}

	// Nothing has been written yet: a cancelled caller must leave no trace.
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, err
	}

	applied, err := s.ledger.Commit(ctx, domain.Commit{
		ExpectedVersion: item.Version,
		NewQuantity:     newQuantity,
		Transaction: domain.Transaction{
			Ref:           s.newRef(),
			ItemID:        item.ID,
			Type:          req.Type,
			Quantity:      req.Quantity,
			Delta:         delta,
			QuantityAfter: newQuantity,
			ActorID:       req.ActorID,
			Notes:         req.Notes,
			OccurredAt:    s.now().UTC(),
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrStorageConflict) {
			s.log.Warn("lost item race to a concurrent apply", "item_id", item.ID, "expected_version", item.Version)
		}
		return domain.Transaction{}, err
	}

	// Committed: from here on the transaction stands even if ctx is cancelled.
	return applied, nil
}

func (s *LedgerService) checkActor(ctx context.Context, actorID int64) error {
	if actorID == 0 {
		return nil
	}
	if _, err := s.persons.GetPerson(ctx, actorID); err != nil {
		return err
	}
	return nil
}

// Reconcile records the difference between a physical count and the on-hand quantity as a
// restock or discard transaction, so that setting a quantity stays auditable.
func (s *LedgerService) Reconcile(ctx context.Context, itemID int64, counted int, actorID int64, notes string) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.Reconcile", trace.WithAttributes(
		attribute.Int64("item.id", itemID),
		attribute.Int("reconcile.counted", counted),
	))
	defer span.End()

	if counted < 0 || counted > domain.MaxQuantity {
		return domain.Transaction{}, &domain.InvalidQuantityError{Requested: counted}
	}
	if err := s.checkActor(ctx, actorID); err != nil {
		return domain.Transaction{}, err
	}
	if notes == "" {
		notes = reconcileNote
	}

	unlock, err := s.locker.Lock(ctx, itemID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("acquire item lock: %w", err)
	}
	defer unlock()

	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return domain.Transaction{}, err
	}

	diff := counted - item.Quantity
	req := ApplyRequest{ItemID: itemID, ActorID: actorID, Notes: notes}
	switch {
	case diff == 0:
		return domain.Transaction{}, domain.ErrNoChange
	case diff > 0:
		req.Type, req.Quantity = domain.TransactionTypeRestock, diff
	default:
		req.Type, req.Quantity = domain.TransactionTypeDiscard, -diff
	}

	txn, err := s.commit(ctx, item, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Transaction{}, err
	}
	s.log.Info("item reconciled", "item_id", itemID, "counted", counted, "transaction_id", txn.ID, "type", txn.Type.String())
	return txn, nil
}

// Audit checks that the item's quantity equals its baseline plus the net of its transactions.
func (s *LedgerService) Audit(ctx context.Context, itemID int64) (AuditReport, error) {
	unlock, err := s.locker.Lock(ctx, itemID)
	if err != nil {
		return AuditReport{}, fmt.Errorf("acquire item lock: %w", err)
	}
	defer unlock()

	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return AuditReport{}, err
	}
	count, net, err := s.ledger.SumDeltas(ctx, itemID)
	if err != nil {
		return AuditReport{}, fmt.Errorf("sum deltas: %w", err)
	}

	report := AuditReport{
		ItemID:           itemID,
		InitialQuantity:  item.InitialQuantity,
		Quantity:         item.Quantity,
		NetDelta:         net,
		TransactionCount: count,
		Consistent:       item.InitialQuantity+net == item.Quantity,
	}
	if !report.Consistent {
		s.log.Error("ledger out of balance", "item_id", itemID,
			"initial", item.InitialQuantity, "net_delta", net, "quantity", item.Quantity)
	}
	return report, nil
}

// ListByItem returns the item's history, newest first. An item without transactions yields an
// empty slice; an unknown item yields domain.ErrItemNotFound, which the HTTP and gRPC layers
// report as 404 and NotFound.
func (s *LedgerService) ListByItem(ctx context.Context, itemID int64, limit int) ([]domain.Transaction, error) {
	if _, err := s.items.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.Search(ctx, domain.TransactionQuery{ItemID: itemID, Limit: limit})
}

// ListRecent returns the latest transactions across all items.
func (s *LedgerService) ListRecent(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return s.Search(ctx, domain.TransactionQuery{Limit: limit})
}

func (s *LedgerService) Search(ctx context.Context, query domain.TransactionQuery) ([]domain.Transaction, error) {
	query.Limit = normalizeLimit(query.Limit)
	txns, err := s.ledger.ListTransactions(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	return txns, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
