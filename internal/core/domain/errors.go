package domain

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotFound           = errors.New("item not found")
	ErrPersonNotFound         = errors.New("person not found")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrUnknownTransactionType = errors.New("unknown transaction type")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrStorageConflict        = errors.New("storage conflict")
	ErrNoChange               = errors.New("no quantity change")
)

type InsufficientStockError struct {
	ItemID    int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d: available %d, requested %d", e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type InvalidQuantityError struct {
	Requested int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d", e.Requested)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }
