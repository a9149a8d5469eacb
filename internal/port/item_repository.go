package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type ItemRepository interface {
	// GetItem returns domain.ErrItemNotFound when no item has the given ID
	GetItem(ctx context.Context, id int64) (domain.Item, error)

	// CreateItem stores a new item; its Quantity becomes the ledger baseline
	CreateItem(ctx context.Context, item domain.Item) (domain.Item, error)

	// ListItems returns items ordered by ID
	ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error)
}

type PersonRepository interface {
	// GetPerson returns domain.ErrPersonNotFound when no person has the given ID
	GetPerson(ctx context.Context, id int64) (domain.Person, error)

	CreatePerson(ctx context.Context, person domain.Person) (domain.Person, error)
}
