package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type LedgerRepository interface {
	// Commit swaps the item quantity (guarded by the expected version) and appends the
	// transaction as one atomic unit. Returns domain.ErrStorageConflict when the version moved,
	// domain.ErrDuplicateTransaction when the transaction Ref was already appended.
	Commit(ctx context.Context, commit domain.Commit) (domain.Transaction, error)

	// ListTransactions returns matching transactions, newest first
	ListTransactions(ctx context.Context, query domain.TransactionQuery) ([]domain.Transaction, error)

	// SumDeltas returns the number of transactions and the signed sum of their deltas for an item
	SumDeltas(ctx context.Context, itemID int64) (count int, net int, err error)
}
