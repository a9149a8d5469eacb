package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// MemoryAdapter keeps items, people and the ledger in process. One mutex guards all of it, so a
// Commit is trivially atomic with respect to every reader.
type MemoryAdapter struct {
	mu           sync.RWMutex
	items        map[int64]domain.Item
	persons      map[int64]domain.Person
	transactions []domain.Transaction
	refs         map[string]struct{}
	lastItemID   int64
	lastPersonID int64
	lastTxnID    int64
	now          func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:   make(map[int64]domain.Item),
		persons: make(map[int64]domain.Person),
		refs:    make(map[string]struct{}),
		now:     time.Now,
	}
}

func (m *MemoryAdapter) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	if item.Quantity < 0 || item.MinimumQuantity < 0 || item.Quantity > domain.MaxQuantity || item.MinimumQuantity > domain.MaxQuantity {
		return domain.Item{}, domain.ErrInvalidQuantity
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastItemID++
	now := m.now().UTC()
	item.ID = m.lastItemID
	item.InitialQuantity = item.Quantity
	item.Version = 0
	item.CreatedAt = now
	item.UpdatedAt = now
	m.items[item.ID] = item
	return item, nil
}

func (m *MemoryAdapter) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]domain.Item, 0, len(m.items))
	for _, item := range m.items {
		if filter.LowStockOnly && !item.NeedsRestock() {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (m *MemoryAdapter) GetPerson(ctx context.Context, id int64) (domain.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.persons[id]
	if !ok {
		return domain.Person{}, domain.ErrPersonNotFound
	}
	return p, nil
}

func (m *MemoryAdapter) CreatePerson(ctx context.Context, person domain.Person) (domain.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastPersonID++
	person.ID = m.lastPersonID
	person.CreatedAt = m.now().UTC()
	m.persons[person.ID] = person
	return person, nil
}

func (m *MemoryAdapter) Commit(ctx context.Context, c domain.Commit) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn := c.Transaction
	item, ok := m.items[txn.ItemID]
	if !ok {
		return domain.Transaction{}, domain.ErrItemNotFound
	}
	if item.Version != c.ExpectedVersion {
		return domain.Transaction{}, domain.ErrStorageConflict
	}
	if _, dup := m.refs[txn.Ref]; dup {
		return domain.Transaction{}, domain.ErrDuplicateTransaction
	}
	if c.NewQuantity < 0 {
		return domain.Transaction{}, &domain.InsufficientStockError{ItemID: item.ID, Available: item.Quantity, Requested: txn.Quantity}
	}
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, err
	}

	item.Quantity = c.NewQuantity
	item.Version++
	item.UpdatedAt = m.now().UTC()
	m.items[item.ID] = item

	m.lastTxnID++
	txn.ID = m.lastTxnID
	m.transactions = append(m.transactions, txn)
	m.refs[txn.Ref] = struct{}{}

	return txn, nil
}

func (m *MemoryAdapter) ListTransactions(ctx context.Context, query domain.TransactionQuery) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for _, txn := range m.transactions {
		if query.Matches(txn) {
			out = append(out, txn)
		}
	}
	sortNewestFirst(out)

	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (m *MemoryAdapter) SumDeltas(ctx context.Context, itemID int64) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count, net int
	for _, txn := range m.transactions {
		if txn.ItemID == itemID {
			count++
			net += txn.Delta
		}
	}
	return count, net, nil
}

func sortNewestFirst(txns []domain.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].OccurredAt.Equal(txns[j].OccurredAt) {
			return txns[i].OccurredAt.After(txns[j].OccurredAt)
		}
		return txns[i].ID > txns[j].ID
	})
}
