package domain

import (
	"math"
	"time"
)

// MaxQuantity is the largest on-hand or per-transaction quantity; it matches the INT column
// the relational store keeps quantities in.
const MaxQuantity = math.MaxInt32

type Item struct {
	ID              int64
	Name            string
	Unit            string
	Quantity        int
	MinimumQuantity int
	InitialQuantity int
	Version         int // optimistic locking
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NeedsRestock reports whether on-hand stock is at or below the item's minimum.
func NeedsRestock(item Item) bool {
	return item.Quantity <= item.MinimumQuantity
}

func (i Item) NeedsRestock() bool {
	return NeedsRestock(i)
}

// Shortfall is how many units are missing to get back above the minimum.
func (i Item) Shortfall() int {
	if !i.NeedsRestock() {
		return 0
	}
	return i.MinimumQuantity - i.Quantity + 1
}

type ItemFilter struct {
	LowStockOnly bool
	Limit        int
}

type Person struct {
	ID         int64
	Name       string
	Email      string
	Department string
	CreatedAt  time.Time
}
