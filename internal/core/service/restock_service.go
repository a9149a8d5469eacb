package service

import (
	"context"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

type ItemStatus struct {
	Item         domain.Item
	NeedsRestock bool
	Shortfall    int
}

type Dashboard struct {
	TotalItems         int
	TotalUnits         int
	LowStockCount      int
	OutOfStockCount    int
	RecentTransactions []domain.Transaction
}

// RestockService is read-only: it never mutates stock.
type RestockService struct {
	items  port.ItemRepository
	ledger port.LedgerRepository
}

func NewRestockService(items port.ItemRepository, ledger port.LedgerRepository) *RestockService {
	return &RestockService{items: items, ledger: ledger}
}

func StatusOf(item domain.Item) ItemStatus {
	return ItemStatus{
		Item:         item,
		NeedsRestock: domain.NeedsRestock(item),
		Shortfall:    item.Shortfall(),
	}
}

func (s *RestockService) Status(ctx context.Context, itemID int64) (ItemStatus, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return ItemStatus{}, err
	}
	return StatusOf(item), nil
}

func (s *RestockService) LowStock(ctx context.Context, limit int) ([]ItemStatus, error) {
	items, err := s.items.ListItems(ctx, domain.ItemFilter{LowStockOnly: true, Limit: normalizeLimit(limit)})
	if err != nil {
		return nil, fmt.Errorf("list low stock items: %w", err)
	}

	statuses := make([]ItemStatus, 0, len(items))
	for _, item := range items {
		// the repository filter is a pre-selection; the predicate decides
		if domain.NeedsRestock(item) {
			statuses = append(statuses, StatusOf(item))
		}
	}
	return statuses, nil
}

func (s *RestockService) Dashboard(ctx context.Context, recent int) (Dashboard, error) {
	items, err := s.items.ListItems(ctx, domain.ItemFilter{})
	if err != nil {
		return Dashboard{}, fmt.Errorf("list items: %w", err)
	}

	var d Dashboard
	d.TotalItems = len(items)
	for _, item := range items {
		d.TotalUnits += item.Quantity
		if domain.NeedsRestock(item) {
			d.LowStockCount++
		}
		if item.Quantity == 0 {
			d.OutOfStockCount++
		}
	}

	if recent <= 0 {
		recent = 10
	}
	txns, err := s.ledger.ListTransactions(ctx, domain.TransactionQuery{Limit: normalizeLimit(recent)})
	if err != nil {
		return Dashboard{}, fmt.Errorf("list recent transactions: %w", err)
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	d.RecentTransactions = txns
	return d, nil
}
