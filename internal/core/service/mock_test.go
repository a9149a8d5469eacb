package service

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Mock store implementing the item, person and ledger ports
type mockStore struct {
	mu           sync.Mutex
	items        map[int64]domain.Item
	persons      map[int64]domain.Person
	transactions []domain.Transaction
	refs         map[string]bool
	commitErr    error
	beforeCommit func()
	commits      int
}

func newMockStore() *mockStore {
	return &mockStore{
		items:   make(map[int64]domain.Item),
		persons: make(map[int64]domain.Person),
		refs:    make(map[string]bool),
	}
}

func (m *mockStore) addItem(id int64, quantity, minimum int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = domain.Item{ID: id, Name: "item", Quantity: quantity, MinimumQuantity: minimum, InitialQuantity: quantity}
}

func (m *mockStore) item(id int64) domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

func (m *mockStore) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (m *mockStore) CreateItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = int64(len(m.items) + 1)
	item.InitialQuantity = item.Quantity
	m.items[item.ID] = item
	return item, nil
}

func (m *mockStore) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Item
	for _, item := range m.items {
		if filter.LowStockOnly && item.Quantity > item.MinimumQuantity {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) GetPerson(ctx context.Context, id int64) (domain.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return domain.Person{}, domain.ErrPersonNotFound
	}
	return p, nil
}

func (m *mockStore) CreatePerson(ctx context.Context, p domain.Person) (domain.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.persons) + 1)
	m.persons[p.ID] = p
	return p, nil
}

func (m *mockStore) Commit(ctx context.Context, c domain.Commit) (domain.Transaction, error) {
	if m.beforeCommit != nil {
		m.beforeCommit()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++

	if m.commitErr != nil {
		return domain.Transaction{}, m.commitErr
	}
	item, ok := m.items[c.Transaction.ItemID]
	if !ok {
		return domain.Transaction{}, domain.ErrItemNotFound
	}
	if item.Version != c.ExpectedVersion {
		return domain.Transaction{}, domain.ErrStorageConflict
	}
	if m.refs[c.Transaction.Ref] {
		return domain.Transaction{}, domain.ErrDuplicateTransaction
	}

	item.Quantity = c.NewQuantity
	item.Version++
	m.items[item.ID] = item

	txn := c.Transaction
	txn.ID = int64(len(m.transactions) + 1)
	m.transactions = append(m.transactions, txn)
	m.refs[txn.Ref] = true
	return txn, nil
}

func (m *mockStore) ListTransactions(ctx context.Context, q domain.TransactionQuery) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if q.Matches(m.transactions[i]) {
			out = append(out, m.transactions[i])
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *mockStore) SumDeltas(ctx context.Context, itemID int64) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count, net int
	for _, txn := range m.transactions {
		if txn.ItemID == itemID {
			count++
			net += txn.Delta
		}
	}
	return count, net, nil
}

// Mock locker: one mutex per item
type mockLocker struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
	err   error
}

func newMockLocker() *mockLocker {
	return &mockLocker{locks: make(map[int64]*sync.Mutex)}
}

func (l *mockLocker) Lock(ctx context.Context, itemID int64) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	m, ok := l.locks[itemID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[itemID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}
